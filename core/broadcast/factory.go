package broadcast

import (
	"github.com/kilianp07/smartzone/core/factory"
	"github.com/kilianp07/smartzone/core/logger"
)

var registry = factory.NewRegistry[Sink]()

// Register adds a sink factory identified by name.
func Register(name string, f factory.Factory[Sink]) error {
	return registry.Register(name, f)
}

func init() {
	_ = Register("nop", func(map[string]any) (Sink, error) { return NopSink{}, nil })
	_ = Register("local", func(conf map[string]any) (Sink, error) {
		var c struct {
			Buffer int `json:"buffer"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewLocalSink(c.Buffer), nil
	})
}

// New builds every configured sink behind a MultiSink. Without configuration a
// single local sink is used. onCancel, when set, is passed to each sink under
// ControlKey; the caller's configs are not modified.
func New(cfgs []factory.ModuleConfig, log logger.Logger, onCancel CancelFunc) (*MultiSink, error) {
	if len(cfgs) == 0 {
		return NewMultiSink(log, NewLocalSink(0)), nil
	}
	sinks := make([]Sink, 0, len(cfgs))
	for _, c := range cfgs {
		if onCancel != nil {
			conf := make(map[string]any, len(c.Conf)+1)
			for k, v := range c.Conf {
				conf[k] = v
			}
			conf[ControlKey] = onCancel
			c.Conf = conf
		}
		s, err := registry.Create(c)
		if err != nil {
			for _, built := range sinks {
				closeSink(built, log)
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return NewMultiSink(log, sinks...), nil
}

// Local returns the first LocalSink of m, if any.
func (m *MultiSink) Local() (*LocalSink, bool) {
	for _, s := range m.Sinks {
		if l, ok := s.(*LocalSink); ok {
			return l, true
		}
	}
	return nil, false
}
