package membership

// HealthReporter is implemented by memberships that expose a health score;
// higher scores mean degraded health and -1 means not started.
type HealthReporter interface {
    HealthScore() int
}
