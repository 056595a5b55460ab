package registry

import "testing"

func bindingFor(componentRef string) Binding {
	return Binding{RuntimeRef: RuntimeRef{ComponentRef: componentRef, Export: "run"}, PackRef: "pack@1.0.0"}
}

func TestResolveByProviderID(t *testing.T) {
	packs := []Pack{
		{Providers: []ProviderDecl{{
			ProviderID:   "dummy.v1",
			ProviderType: "example.dummy",
			Operations:   map[string]Binding{"echo": bindingFor("echo.wasm")},
		}}},
	}
	r := Build(packs)

	b, err := r.Resolve("dummy.v1", "", "echo")
	if err != nil {
		t.Fatal(err)
	}
	if b.RuntimeRef.ComponentRef != "echo.wasm" {
		t.Fatalf("unexpected binding: %+v", b)
	}

	if _, err := r.Resolve("dummy.v1", "", "missing"); err != ErrOpNotFound {
		t.Fatalf("want ErrOpNotFound, got %v", err)
	}
	if _, err := r.Resolve("nope", "", "echo"); err != ErrProviderNotFound {
		t.Fatalf("want ErrProviderNotFound, got %v", err)
	}
}

func TestProviderTypeIgnoredWhenIDPresent(t *testing.T) {
	packs := []Pack{
		{Providers: []ProviderDecl{{
			ProviderID:   "dummy.v1",
			ProviderType: "example.dummy",
			Operations:   map[string]Binding{"echo": bindingFor("a.wasm")},
		}}},
	}
	r := Build(packs)
	// provider_type set to something nonexistent; must be ignored because provider_id is set.
	b, err := r.Resolve("dummy.v1", "does.not.exist", "echo")
	if err != nil {
		t.Fatalf("provider_type should be ignored when provider_id present, got err %v", err)
	}
	if b.RuntimeRef.ComponentRef != "a.wasm" {
		t.Fatalf("unexpected binding: %+v", b)
	}
}

func TestLaterPackWinsAtEqualSelector(t *testing.T) {
	packs := []Pack{
		{Providers: []ProviderDecl{{ProviderType: "example.dummy", Operations: map[string]Binding{"echo": bindingFor("old.wasm")}}}},
		{Providers: []ProviderDecl{{ProviderType: "example.dummy", Operations: map[string]Binding{"echo": bindingFor("new.wasm")}}}},
	}
	r := Build(packs)
	b, err := r.Resolve("", "example.dummy", "echo")
	if err != nil {
		t.Fatal(err)
	}
	if b.RuntimeRef.ComponentRef != "new.wasm" {
		t.Fatalf("expected later pack to win, got %+v", b)
	}
	if b.PackPriority != 1 {
		t.Fatalf("expected pack_priority 1, got %d", b.PackPriority)
	}
}
