// Package object implements the handle table that lets a compute module
// reference host objects through integers.
//
// Handle 0 is Null and handle 1 is the Root record; neither is ever returned
// by Register or freed by Release. Every other handle indexes a slot; freed
// slots go onto a LIFO free list and are reissued by the next Register:
//
//	table := object.NewTable(root)
//	h := table.Register(object.Text("hello"))
//	text, err := object.As[object.Text](table, h)
//	_ = table.Release(h)
//
// Resolving or releasing a handle that is not live fails with an
// invalid_handle error. Objects form a closed variant tagged by Kind, so a
// typed lookup either yields the expected shape or fails explicitly.
//
// Observers see every registration and release:
//
//	table.Subscribe(object.ObserverFunc(func(e object.Event) {
//	    log.Printf("%d %v", e.Handle, e.Type)
//	}))
package object
