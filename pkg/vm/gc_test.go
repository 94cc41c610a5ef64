package vm

import (
	"testing"

	"github.com/kristofer/loxvm/pkg/object"
)

// TestSweepDecrementsBytesAllocated locks in the fix for the accounting
// bug where bytesAllocated only ever grew: an object that becomes
// unreachable and gets swept must have its recorded size subtracted
// back out, not just its entry removed from vm.objects.
func TestSweepDecrementsBytesAllocated(t *testing.T) {
	machine := New()
	// allocateString tracks the object and returns it; dropping every
	// reference to it (nothing on the stack, not a global) makes it
	// unreachable for the next collection.
	machine.allocateString("garbage")
	if machine.bytesAllocated == 0 {
		t.Fatalf("expected allocation to increase bytesAllocated, got 0")
	}

	machine.collectGarbage()

	if machine.bytesAllocated != 0 {
		t.Fatalf("expected bytesAllocated to return to 0 after sweeping an unreachable object, got %d", machine.bytesAllocated)
	}
	if len(machine.objects) != 0 {
		t.Fatalf("expected the unreachable object to be swept, %d objects remain", len(machine.objects))
	}
}

// TestSweepKeepsBytesAllocatedForLiveObjects ensures the subtraction in
// sweep only applies to objects that are actually freed: a string
// reachable from a global must survive collection with its size still
// counted.
func TestSweepKeepsBytesAllocatedForLiveObjects(t *testing.T) {
	machine := New()
	s := machine.allocateString("kept")
	machine.globals["g"] = object.ObjValue(s)
	want := machine.bytesAllocated

	machine.collectGarbage()

	if machine.bytesAllocated != want {
		t.Fatalf("bytesAllocated changed for a live object: got %d, want %d", machine.bytesAllocated, want)
	}
	if len(machine.objects) != 1 {
		t.Fatalf("expected the live object to survive the sweep, got %d objects", len(machine.objects))
	}
}
