package factory

import (
	"errors"
	"testing"
	"time"
)

type backend struct {
	Path  string
	Topic []string
}

type backendConf struct {
	Path   string   `json:"path"`
	Topics []string `json:"topics"`
}

func newBackend(conf map[string]any) (*backend, error) {
	var c backendConf
	if err := Decode(conf, &c); err != nil {
		return nil, err
	}
	if c.Path == "" {
		return nil, errors.New("path required")
	}
	return &backend{Path: c.Path, Topic: c.Topics}, nil
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry[*backend]()
	if err := reg.Register("file", newBackend); err != nil {
		t.Fatalf("register: %v", err)
	}
	b, err := reg.Create(ModuleConfig{Type: "file", Conf: map[string]any{"path": "/tmp/x", "topics": "a,b"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Path != "/tmp/x" || len(b.Topic) != 2 || b.Topic[1] != "b" {
		t.Fatalf("unexpected backend %+v", b)
	}
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry[*backend]()
	if err := reg.Register("file", newBackend); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("file", newBackend); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := reg.Register("nil", nil); err == nil {
		t.Fatal("expected nil factory error")
	}
	if err := reg.Register("", newBackend); err == nil {
		t.Fatal("expected empty name error")
	}
	if _, err := reg.Create(ModuleConfig{Type: "s3"}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := reg.Create(ModuleConfig{Type: "file"}); err == nil {
		t.Fatal("expected factory error to propagate")
	}
}

func TestRegistryTypesSorted(t *testing.T) {
	reg := NewRegistry[int]()
	for _, n := range []string{"mqtt", "amqp", "local"} {
		if err := reg.Register(n, func(map[string]any) (int, error) { return 0, nil }); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
	got := reg.Types()
	want := []string{"amqp", "local", "mqtt"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("types = %v, want %v", got, want)
		}
	}
}

func TestDecodeWeakTypes(t *testing.T) {
	var c struct {
		Interval time.Duration `json:"interval"`
		Count    int           `json:"count"`
	}
	if err := Decode(map[string]any{"interval": "250ms", "count": "4"}, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Interval != 250*time.Millisecond || c.Count != 4 {
		t.Fatalf("unexpected decode result %+v", c)
	}
}
