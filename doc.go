// Package rstate is a reactive state engine: containers of named variables
// whose reads are recorded during a render pass and whose changes notify
// exactly the consumers that read them.
//
// # Containers
//
// A Container is declared once with its variables:
//
//	c, err := rstate.NewContainer([]rstate.Declaration{
//	    rstate.Var("filter", ""),
//	    rstate.Async("greeting", func(c *rstate.Container) rstate.AsyncOptions[string] {
//	        return rstate.AsyncOptions[string]{
//	            Get:          api.FetchGreeting,
//	            Set:          api.StoreGreeting,
//	            InitialValue: "[initial value]",
//	        }
//	    }),
//	})
//
// Reads go through Container.Read (or the typed ReadVar and AsyncOf helpers)
// and writes through Container.Write. A write equal to the visible value is
// suppressed.
//
// # Async variables
//
// An AsyncVar tracks a GET axis and a SET axis, each Idle, Pending,
// Fulfilled or Rejected. The first read starts the get operation. Write
// stages a local edit without calling the host; Push sends it. Reset and
// Drop hide the staged edit, Restore shows it again. Host errors never
// escape: they are reported through IsRejectedGet, GetErrorGet and their
// SET counterparts.
//
//	v, _ := rstate.AsyncOf[string](c, "greeting")
//	v.IsPendingGet() // true until the get settles
//	_ = v.Write("hi") // staged, v.GetValue() == "hi"
//	_ = v.Push()      // set("hi")
//
// Composite values (maps, structs, slices, arrays) are read through a Proxy
// that exposes their members next to the status surface.
//
// # Loop
//
// Host operations run on their own goroutines. Their settlements are applied
// on the container's Loop, in the order they complete, by whichever
// goroutine runs Loop.Run or Loop.Flush. Concurrent operations on the same
// axis are not merged: the last to settle wins.
//
// # Tracking
//
// A Tracker runs a render function inside a recording window and
// resubscribes to exactly the keys it read:
//
//	t := rstate.NewTracker(func(string) { requestRender() })
//	t.Track(render)
package rstate
