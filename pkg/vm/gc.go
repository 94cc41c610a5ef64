// Package vm - the tracing mark-sweep garbage collector.
//
// Every heap object the VM allocates at run time (as opposed to the
// compiler's constant-pool objects, which live for the process's
// whole lifetime and are never swept) is recorded in vm.objects.
// collectGarbage runs a classic tricolor mark-sweep: mark every object
// reachable from a root, then free everything left unmarked.
package vm

import (
	"github.com/kristofer/loxvm/pkg/object"
)

// gcHeapGrowFactor is the multiplier applied to bytesAllocated at the
// end of a collection to compute the next collection threshold.
const gcHeapGrowFactor = 2

// gcInitialThreshold is nextGC's starting value (1 MiB), and also the
// floor nextGC never drops below after a collection. Small programs stay
// under it, so they only collect in stress mode or on an explicit
// collectGarbage call.
const gcInitialThreshold = 1 << 20

// trackObject registers a freshly allocated heap object with the
// collector, stamping it with its own estimated size so a later sweep
// can subtract it back out of bytesAllocated, and triggers a collection
// if the allocation budget (or, in stress mode, every single
// allocation) demands one.
func (vm *VM) trackObject(o object.Object, size int) {
	o.SetSize(size)
	vm.objects = append(vm.objects, o)
	vm.bytesAllocated += size

	if vm.stressGC || vm.bytesAllocated > vm.nextGC {
		vm.collectGarbage()
	}
}

func (vm *VM) allocateString(s string) *object.String {
	str := object.NewString(s)
	vm.trackObject(str, len(s)+16)
	return str
}

func (vm *VM) allocateClosure(fn *object.Function) *object.Closure {
	c := object.NewClosure(fn)
	vm.trackObject(c, 32+8*fn.UpvalueCount)
	return c
}

func (vm *VM) allocateUpvalue(slot int) *object.Upvalue {
	uv := object.NewUpvalue(slot)
	vm.trackObject(uv, 24)
	return uv
}

func (vm *VM) allocateClass(name string) *object.Class {
	cl := object.NewClass(name)
	vm.trackObject(cl, 48)
	return cl
}

func (vm *VM) allocateInstance(class *object.Class) *object.Instance {
	inst := object.NewInstance(class)
	vm.trackObject(inst, 48)
	return inst
}

func (vm *VM) allocateBoundMethod(receiver object.Value, method *object.Closure) *object.BoundMethod {
	bm := object.NewBoundMethod(receiver, method)
	vm.trackObject(bm, 32)
	return bm
}

// collectGarbage marks every object reachable from a VM root, sweeps
// everything left white, and grows the next-collection threshold from
// what survived.
func (vm *VM) collectGarbage() {
	vm.markRoots()
	vm.traceReferences()
	vm.sweep()
	vm.nextGC = vm.bytesAllocated * gcHeapGrowFactor
	if vm.nextGC < gcInitialThreshold {
		vm.nextGC = gcInitialThreshold
	}

	vm.log.Debug().
		Int("objects_live", len(vm.objects)).
		Int("bytes_allocated", vm.bytesAllocated).
		Int("next_gc", vm.nextGC).
		Msg("gc cycle complete")
}

// markRoots marks everything directly reachable without traversal:
// the value stack, every active call frame's closure, open upvalues,
// and the globals table.
func (vm *VM) markRoots() {
	for i := 0; i < vm.stackTop; i++ {
		vm.markValue(vm.stack[i])
	}
	for i := 0; i < len(vm.frames); i++ {
		vm.markObject(vm.frames[i].closure)
	}
	for _, uv := range vm.openUpvalues {
		vm.markObject(uv)
	}
	for _, v := range vm.globals {
		vm.markValue(v)
	}
}

func (vm *VM) markValue(v object.Value) {
	if v.IsObj() {
		vm.markObject(v.Object)
	}
}

// markObject adds o to the gray worklist the first time it's marked;
// re-marking an already-gray-or-black object is a no-op, which is what
// lets blackening below tolerate reference cycles (e.g. a class whose
// method closure captures an upvalue pointing back at an instance of
// that same class).
func (vm *VM) markObject(o object.Object) {
	if o == nil || o.Marked() {
		return
	}
	o.SetMarked(true)
	vm.grayStack = append(vm.grayStack, o)
}

// traceReferences drains the gray worklist, blackening each object by
// marking whatever it points to.
func (vm *VM) traceReferences() {
	for len(vm.grayStack) > 0 {
		o := vm.grayStack[len(vm.grayStack)-1]
		vm.grayStack = vm.grayStack[:len(vm.grayStack)-1]
		vm.blacken(o)
	}
}

func (vm *VM) blacken(o object.Object) {
	switch obj := o.(type) {
	case *object.String:
		// no outgoing references
	case *object.Function:
		if obj.Name != nil {
			vm.markObject(obj.Name)
		}
		for _, c := range obj.Chunk.Constants {
			if v, ok := c.(object.Value); ok {
				vm.markValue(v)
			}
		}
	case *object.Closure:
		vm.markObject(obj.Function)
		for _, uv := range obj.Upvalues {
			if uv != nil {
				vm.markObject(uv)
			}
		}
	case *object.Upvalue:
		if obj.IsClosed {
			vm.markValue(obj.Closed)
		}
	case *object.Class:
		for _, m := range obj.Methods {
			vm.markValue(m)
		}
	case *object.Instance:
		vm.markObject(obj.Class)
		for _, f := range obj.Fields {
			vm.markValue(f)
		}
	case *object.BoundMethod:
		vm.markValue(obj.Receiver)
		vm.markObject(obj.Method)
	}
}

// sweep drops every unmarked object from vm.objects, clears the mark
// bit on every survivor for the next cycle, and decrements
// bytesAllocated by each freed object's recorded size so the next
// collection threshold reflects the live heap rather than a
// monotonically growing total.
func (vm *VM) sweep() {
	live := vm.objects[:0]
	freed := 0
	for _, o := range vm.objects {
		if o.Marked() {
			o.SetMarked(false)
			live = append(live, o)
		} else {
			vm.bytesAllocated -= o.Size()
			freed++
		}
	}
	vm.objects = live
}
