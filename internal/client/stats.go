package client

// Stats counts what the receiver applied.
type Stats struct {
	EntitiesChanged   uint64 `json:"entities_changed"`
	ComponentsChanged uint64 `json:"components_changed"`
	Mappings          uint64 `json:"mappings"`
	Despawns          uint64 `json:"despawns"`
	Messages          uint64 `json:"messages"`
	Bytes             uint64 `json:"bytes"`
	Buffered          uint64 `json:"buffered"`
	Duplicates        uint64 `json:"duplicates"`
	Stale             uint64 `json:"stale"`
}
