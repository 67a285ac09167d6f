package episode

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	episodesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_novel_episodes_generated_total",
		Help: "Episodes generated and merged into the ledger.",
	})
	episodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serial_novel_episode_failures_total",
		Help: "Episode generation failures by stage.",
	}, []string{"stage"})
	continuityViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_novel_continuity_violations_total",
		Help: "Episodes that list a previously killed character as alive.",
	})
)

// deathRoll - множество убитых персонажей (ключ в нижнем регистре).
type deathRoll map[string]struct{}

func (d deathRoll) add(names []string) {
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			d[n] = struct{}{}
		}
	}
}

func (d deathRoll) has(name string) bool {
	_, ok := d[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (d deathRoll) names() []string {
	out := make([]string, 0, len(d))
	for n := range d {
		out = append(out, n)
	}
	return out
}

// resurrected возвращает живых персонажей, которые уже числятся убитыми.
func (d deathRoll) resurrected(current []string) []string {
	var out []string
	for _, n := range current {
		if d.has(n) {
			out = append(out, n)
		}
	}
	return out
}
