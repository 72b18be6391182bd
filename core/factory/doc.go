// Package factory builds pluggable backends (stores, broadcast sinks, metric
// sinks, forecast providers) from a {type, conf} pair found in the
// configuration file.
//
//	reg := factory.NewRegistry[store.Store]()
//	_ = reg.Register("sqlite", func(conf map[string]any) (store.Store, error) {
//	    var c sqlite.Config
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return sqlite.Open(c)
//	})
//	st, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "sz.db"}})
package factory
