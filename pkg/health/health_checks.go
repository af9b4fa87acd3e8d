package health

// ReplicaCheck reports on the bound replica. Without a client, or with a failed one, the
// replica is unhealthy; while it is reconnecting it is degraded.
func ReplicaCheck(status func() ReplicaStatus) CheckFunc {
	return func() Check {
		s := status()
		check := Check{Details: make(map[string]any)}

		if !s.Bound {
			check.Status = StatusUnhealthy
			check.Message = "no replica bound"
			return check
		}

		check.Details["client_id"] = s.ClientID
		check.Details["state"] = s.State
		check.Details["position"] = s.Position

		switch s.State {
		case "streaming", "applying":
			check.Status = StatusHealthy
			check.Message = "following the chain"
		case "connecting", "reconnecting":
			check.Status = StatusDegraded
			check.Message = "block stream interrupted"
		default:
			check.Status = StatusUnhealthy
			check.Message = "replica stopped"
			if s.Err != nil {
				check.Message = s.Err.Error()
			}
		}
		return check
	}
}

// FeedCheck reports a feed server's head and connected replicas. A feed is always healthy;
// the details are informational.
func FeedCheck(status func() (head uint64, sessions int)) CheckFunc {
	return func() Check {
		head, sessions := status()
		return Check{
			Status:  StatusHealthy,
			Message: "serving records",
			Details: map[string]any{
				"head":     head,
				"sessions": sessions,
			},
		}
	}
}
