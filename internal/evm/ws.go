package evm

import "context"

// WSClient defines the EVM WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan Log, error)

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter is an eth_subscribe "logs" filter.
type LogsFilter struct {
	// Addresses restricts logs to these contracts.
	Addresses []string
	// Topics is positional; a nil position matches anything.
	Topics [][]string
}

func (f LogsFilter) params() map[string]interface{} {
	p := make(map[string]interface{})
	if len(f.Addresses) > 0 {
		p["address"] = f.Addresses
	}
	if len(f.Topics) > 0 {
		topics := make([]interface{}, len(f.Topics))
		for i, t := range f.Topics {
			if len(t) > 0 {
				topics[i] = t
			}
		}
		p["topics"] = topics
	}
	return p
}
