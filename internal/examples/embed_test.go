package examples

import (
	"testing"
)

func TestList(t *testing.T) {
	examples, err := List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}

	if len(examples) == 0 {
		t.Fatal("List() returned no examples")
	}

	found := false
	for _, ex := range examples {
		if ex.Name == "go-service" {
			found = true
			if ex.Description == "" {
				t.Error("go-service example has no description")
			}
			if ex.FilePath != "go-service.eifl.json" {
				t.Errorf("go-service FilePath = %q", ex.FilePath)
			}
		}
	}
	if !found {
		t.Error("go-service example not listed")
	}
}

func TestGet(t *testing.T) {
	data, err := Get("nightly-bench")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Get() returned empty content")
	}

	if _, err := Get("no-such-example"); err == nil {
		t.Error("Get() with unknown name should fail")
	}
}

func TestExists(t *testing.T) {
	if !Exists("go-service") {
		t.Error("Exists(go-service) = false")
	}
	if Exists("no-such-example") {
		t.Error("Exists(no-such-example) = true")
	}
}

// Every shipped example must pass the same validation applied to user
// manifests.
func TestAllExamplesAreValidManifests(t *testing.T) {
	examples, err := List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}

	for _, ex := range examples {
		cfg, err := Parse(ex.Name)
		if err != nil {
			t.Errorf("example %q does not validate: %v", ex.Name, err)
			continue
		}
		if cfg.Name != ex.Name {
			t.Errorf("example %q declares pipeline name %q; keep them in sync", ex.Name, cfg.Name)
		}
	}
}
