package hotreload

// AssetStatus is a diagnostic snapshot of one loaded asset.
type AssetStatus struct {
	Store      string   `json:"store,omitempty"`
	Key        AssetKey `json:"key"`
	Source     string   `json:"source,omitempty"`
	Format     string   `json:"format,omitempty"`
	Live       bool     `json:"live"` // Has a reload source.
	Generation uint64   `json:"generation"`
	LastReload Frame    `json:"lastReload"`
	LastError  string   `json:"lastError,omitempty"`
}

// Status is a diagnostic snapshot of a registry.
type Status struct {
	Frame    Frame         `json:"frame"`
	Strategy string        `json:"strategy"`
	DueFrame Frame         `json:"dueFrame"`
	Assets   []AssetStatus `json:"assets"`
}

// Failed returns the assets whose most recent reload failed.
func (s Status) Failed() []AssetStatus {
	var out []AssetStatus
	for _, a := range s.Assets {
		if a.LastError != "" {
			out = append(out, a)
		}
	}
	return out
}

// Status returns a snapshot of every asset in insertion order.
func (s *Store[T]) Status() []AssetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AssetStatus, 0, len(s.order))
	for _, key := range s.order {
		e := s.entries[key]
		st := AssetStatus{
			Key:        key,
			Format:     e.format,
			Live:       e.source != nil,
			Generation: e.generation,
			LastReload: e.lastReload,
		}
		if e.source != nil {
			st.Source = e.source.Name()
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}
