// Package coord holds the per-user coordination records kept in the shared
// store: the message buffer, the schedule/processing markers and the
// last-processed watermark.
package coord

// Keys builds the per-user key namespace. Prefix is prepended verbatim so that
// several deployments can share one store.
type Keys struct {
	Prefix string
}

func (k Keys) Buffer(userID string) string        { return k.Prefix + "buffer:" + userID }
func (k Keys) Scheduled(userID string) string     { return k.Prefix + "scheduled:" + userID }
func (k Keys) Processing(userID string) string    { return k.Prefix + "processing:" + userID }
func (k Keys) LastProcessed(userID string) string { return k.Prefix + "last_processed:" + userID }
func (k Keys) RateLLM(userID string) string       { return k.Prefix + "rate:llm:" + userID }
func (k Keys) Lock(userID string) string          { return k.Prefix + "lock:" + userID }
