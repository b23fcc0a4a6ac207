package registry

import (
	"strings"

	"github.com/itsneelabh/workforce/core"
)

// DomainGeneral is the domain of a task that matches no keyword.
const DomainGeneral = "general"

type keywordRule struct {
	name     string
	keywords []string
}

// domainRules is scanned in order; the first domain with a matching
// keyword wins.
var domainRules = []keywordRule{
	{"code", []string{"code", "function", "bug", "implement", "refactor", "class"}},
	{"architecture", []string{"architecture", "design", "system", "scalab", "microservice", "pattern"}},
	{"devops", []string{"deploy", "docker", "kubernetes", "ci/cd", "pipeline", "infrastructure"}},
	{"security", []string{"security", "vulnerab", "auth", "encrypt", "xss", "injection"}},
	{"performance", []string{"performance", "optimiz", "speed", "latency", "memory", "cache", "slow"}},
	{"documentation", []string{"document", "readme", "docs", "comment", "guide"}},
	{"testing", []string{"test", "coverage", "unit test", "integration", "qa"}},
}

var capabilityRules = []keywordRule{
	{"coding", []string{"code", "implement", "function", "develop", "program", "refactor"}},
	{"testing", []string{"test", "coverage", "qa", "verify"}},
	{"deployment", []string{"deploy", "release", "docker", "kubernetes", "ci/cd"}},
	{"security", []string{"security", "vulnerab", "auth", "encrypt"}},
	{"performance", []string{"performance", "optimiz", "speed", "latency"}},
	{"documentation", []string{"document", "readme", "docs", "explain"}},
}

func (k keywordRule) matches(text string) bool {
	for _, kw := range k.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ClassifyDomain maps a task to a domain using its description and type.
func ClassifyDomain(task *core.Task) string {
	if task == nil {
		return DomainGeneral
	}
	text := strings.ToLower(task.Description + " " + task.Type)
	for _, rule := range domainRules {
		if rule.matches(text) {
			return rule.name
		}
	}
	return DomainGeneral
}

// ExtractCapabilities returns the capabilities a task calls for, derived
// from its description and requirements, in table order.
func ExtractCapabilities(task *core.Task) []string {
	if task == nil {
		return nil
	}
	text := strings.ToLower(task.Description + " " + strings.Join(task.Requirements, " "))

	var caps []string
	for _, rule := range capabilityRules {
		if rule.matches(text) {
			caps = append(caps, rule.name)
		}
	}
	return caps
}

// Selection is the outcome of GetBestWorkerForTask.
type Selection struct {
	Worker WorkerInfo `json:"worker"`
	Domain string     `json:"domain"`
	Score  float64    `json:"score"`
}

// GetBestWorkerForTask picks the highest-scoring idle worker that either
// specializes in the task's domain or shares a capability with it. Ties go
// to the worker registered first. ok is false when no worker qualifies.
func (r *Registry) GetBestWorkerForTask(task *core.Task) (sel Selection, ok bool) {
	domain := ClassifyDomain(task)
	wanted := ExtractCapabilities(task)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *record
	bestScore := 0.0
	for _, id := range r.order {
		rec := r.records[id]
		if rec.status != core.StatusIdle {
			continue
		}
		specialist := containsFold(rec.profile.Specialties, domain)
		if !specialist && !intersects(rec.profile.Capabilities, wanted) {
			continue
		}

		score := r.score(rec, specialist)
		if best == nil || score > bestScore {
			best, bestScore = rec, score
		}
	}

	if best == nil {
		r.logger.Debug("No worker matches task", map[string]interface{}{
			"domain":       domain,
			"capabilities": wanted,
		})
		return Selection{Domain: domain}, false
	}

	r.logger.Debug("Selected worker for task", map[string]interface{}{
		"worker_id": best.id,
		"domain":    domain,
		"score":     bestScore,
	})
	return Selection{Worker: best.snapshot(), Domain: domain, Score: bestScore}, true
}

func (r *Registry) score(rec *record, specialist bool) float64 {
	s := rec.successRate + float64(rec.profile.Priority)/10
	if specialist {
		s += 0.3
	}
	if rec.averageLatency() < r.cfg.ResponseTimeThreshold {
		s += 0.1
	}
	return s
}

func intersects(have, want []string) bool {
	for _, w := range want {
		if containsFold(have, w) {
			return true
		}
	}
	return false
}
