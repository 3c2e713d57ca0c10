package handlers

import (
	"net/http"
)

// StatsSummary reports the caller's job counts by status.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	a.writeStats(w, r, userID)
}

// StatsAll aggregates every user's jobs. Mounted on the ops listener only.
func (a *App) StatsAll(w http.ResponseWriter, r *http.Request) {
	a.writeStats(w, r, "")
}

func (a *App) writeStats(w http.ResponseWriter, r *http.Request, userID string) {
	counts, err := a.Jobs.GetStats(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	byStatus := make(map[string]int, len(counts))
	total := 0
	for status, n := range counts {
		byStatus[string(status)] = n
		total += n
	}
	a.json(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": byStatus,
	})
}
