package health

import "context"

// DBPinger checks document store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// IndexCounter checks vector index availability.
type IndexCounter interface {
	Count(ctx context.Context) (int, error)
}
