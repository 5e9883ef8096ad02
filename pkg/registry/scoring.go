package registry

// FindBestAgentForTask scores every live agent advertising every
// requiredCaps tag and returns the id of the highest scorer, per spec §4.9:
//
//	capability_score = 20*|required∩agent| + 10*|preferred∩agent| + (15 if specialisation matches else 0)
//	load_score        = min(100, current_load + 10*pending_messages), pending_messages capped at 50
//	total             = capability_score + (100 - load_score)
//
// priority=high doubles the capability weight before summing; priority=low
// drops capability scoring entirely and ranks by load alone.
func (r *Registry) FindBestAgentForTask(requiredCaps []string, meta TaskMeta) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best string
	bestScore := -1.0
	found := false

	for id, e := range r.entries {
		if e.Tombstone {
			continue
		}
		if !hasAll(e.Metadata.Capabilities, requiredCaps) {
			continue
		}
		found = true

		score := scoreCandidate(e.Metadata, requiredCaps, meta)
		if score > bestScore {
			bestScore = score
			best = id
		}
	}

	if !found {
		return "", ErrNoSuitableAgent
	}
	return best, nil
}

// RankCandidates returns every required-capability-matching agent with its
// computed score, sorted by descending score, for introspection and tests.
func (r *Registry) RankCandidates(requiredCaps []string, meta TaskMeta) []ScoredAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ScoredAgent
	for id, e := range r.entries {
		if e.Tombstone || !hasAll(e.Metadata.Capabilities, requiredCaps) {
			continue
		}
		out = append(out, ScoredAgent{AgentID: id, Score: scoreCandidate(e.Metadata, requiredCaps, meta)})
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func scoreCandidate(m AgentMetadata, requiredCaps []string, meta TaskMeta) float64 {
	loadScore := loadScoreOf(m)

	if meta.Priority == PriorityLow {
		return 100 - loadScore
	}

	capScore := capabilityScore(m, requiredCaps, meta)
	if meta.Priority == PriorityHigh {
		capScore *= 2
	}

	return capScore + (100 - loadScore)
}

func capabilityScore(m AgentMetadata, requiredCaps []string, meta TaskMeta) float64 {
	score := 20*float64(intersectionCount(requiredCaps, m.Capabilities)) +
		10*float64(intersectionCount(meta.PreferredCapabilities, m.Capabilities))
	if meta.Specialisation != "" && meta.Specialisation == m.Specialisation {
		score += 15
	}
	return score
}

func loadScoreOf(m AgentMetadata) float64 {
	pending := m.PendingMessages
	if pending > 50 {
		pending = 50
	}
	load := float64(m.CurrentLoad) + 10*float64(pending)
	if load > 100 {
		load = 100
	}
	return load
}

func hasAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

func intersectionCount(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	count := 0
	for _, v := range a {
		if _, ok := set[v]; ok {
			count++
		}
	}
	return count
}
