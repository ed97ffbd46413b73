package main

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/corowork/corowork"
)

type payload struct {
	alpha int
	beta  string
}

func main() {
	sched := corowork.NewScheduler(corowork.Options{Workers: runtime.NumCPU()})
	defer sched.Shutdown()

	work := corowork.NewTyped[payload](corowork.KindBuffered, 16, corowork.ChannelOptions{})
	done := corowork.New(corowork.KindRendezvous, 0, 0, corowork.ChannelOptions{})

	for j := 0; j < 5; j++ {
		j := j
		sched.SpawnTask(func() {
			for i := 0; i < 20; i++ {
				work.Send(payload{alpha: j*20 + i, beta: fmt.Sprint(i)}, -1, nil)
			}
			done.Send(nil, -1, nil)
		})
	}

	sel := corowork.Create(nil).WithMetrics(sched)
	defer sel.Destroy()

	var v payload
	received, finished := 0, 0
	for received < 100 && finished < 5 {
		sel.Reset()
		workClause := sel.AddRecv(work.Chan(), unsafe.Pointer(&v))
		doneClause := sel.AddRecv(done, nil)

		idx, res := sel.Wait(2000)
		if res != corowork.ResultOk {
			fmt.Printf("wait: %s\n", res)
			break
		}
		switch idx {
		case workClause:
			received++
			fmt.Printf("%+v\n", v)
		case doneClause:
			finished++
		}
	}

	sched.Drain(5000)
}
