package pool

import "testing"

func testEndpoints() []Endpoint {
	return []Endpoint{
		{Host: "a.pool.example", Port: 1111},
		{Host: "b.pool.example", Port: 2222},
		Sentinel(),
	}
}

func TestRegistryAddActive(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Active(); ok {
		t.Error("empty registry should have no active endpoint")
	}

	for _, ep := range testEndpoints() {
		r.Add(ep)
	}

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	ep, ok := r.Active()
	if !ok || ep.Host != "a.pool.example" {
		t.Errorf("Active() = %+v, %v; want first endpoint", ep, ok)
	}
	if r.ActiveIndex() != 0 {
		t.Errorf("ActiveIndex() = %d, want 0", r.ActiveIndex())
	}
}

func TestRegistryRotateWraps(t *testing.T) {
	r := NewRegistry()
	for _, ep := range testEndpoints() {
		r.Add(ep)
	}

	hosts := []string{"b.pool.example", SentinelHost, "a.pool.example", "b.pool.example"}
	for i, want := range hosts {
		ep, ok := r.Rotate()
		if !ok {
			t.Fatalf("Rotate() #%d not ok", i)
		}
		if ep.Host != want {
			t.Errorf("Rotate() #%d = %s, want %s", i, ep.Host, want)
		}
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	for _, ep := range testEndpoints() {
		r.Add(ep)
	}
	r.Rotate()

	r.Clear()

	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", r.Len())
	}
	if _, ok := r.Active(); ok {
		t.Error("Active() after Clear should report not ok")
	}
	if _, ok := r.Rotate(); ok {
		t.Error("Rotate() on empty registry should report not ok")
	}

	// Re-adding after a clear starts from index 0 again.
	r.Add(Endpoint{Host: "c.pool.example"})
	ep, ok := r.Active()
	if !ok || ep.Host != "c.pool.example" {
		t.Errorf("Active() after re-add = %+v, %v", ep, ok)
	}
}

func TestRegistryListCopies(t *testing.T) {
	r := NewRegistry()
	r.Add(Endpoint{Host: "a.pool.example"})

	list := r.List()
	list[0].Host = "mutated"

	ep, _ := r.Active()
	if ep.Host != "a.pool.example" {
		t.Error("List() must return a copy, registry was mutated")
	}
}
