package detect

import (
	"sort"

	"github.com/ohmvision/camconnect/internal/probe"
)

// protocolWeight orders connection classes when response times are
// comparable: full control-plane protocols over bare stream pulls over
// passive snapshot/presence methods.
func protocolWeight(t probe.ConnectionType) int {
	switch t {
	case probe.TypeONVIF, probe.TypeRTSP:
		return 3
	case probe.TypeNVRDVR, probe.TypeRTMP, probe.TypeHLS, probe.TypeWebRTC:
		return 2
	case probe.TypeHTTPMJPEG:
		return 1
	default:
		return 0
	}
}

// capabilityScore counts the capabilities that matter for ranking.
func capabilityScore(caps []string) int {
	score := 0
	for _, c := range caps {
		switch c {
		case "ptz", "audio", "analytics":
			score++
		}
	}
	return score
}

// rank orders results: successes first by response time ascending, with a
// comparability window applied at the front — results whose response time
// is within window of the fastest are reordered by protocol weight and
// capability richness. Failures follow in declaration order. All sorts are
// stable, so declaration order breaks remaining ties.
func rank(results []probe.Result, window float64) []probe.Result {
	var ok, failed []probe.Result
	for _, r := range results {
		if r.Success {
			ok = append(ok, r)
		} else {
			failed = append(failed, r)
		}
	}
	if len(ok) == 0 {
		return append(ok, failed...)
	}

	sort.SliceStable(ok, func(i, j int) bool {
		return ok[i].ResponseTimeMS < ok[j].ResponseTimeMS
	})

	// Comparability window: fastest * (1 + window). Everything inside the
	// window is a candidate for the soft protocol/capability preference.
	limit := float64(ok[0].ResponseTimeMS) * (1 + window)
	cut := 0
	for cut < len(ok) && float64(ok[cut].ResponseTimeMS) <= limit {
		cut++
	}

	head := ok[:cut]
	sort.SliceStable(head, func(i, j int) bool {
		wi, wj := protocolWeight(head[i].Type), protocolWeight(head[j].Type)
		if wi != wj {
			return wi > wj
		}
		ci, cj := capabilityScore(head[i].Capabilities), capabilityScore(head[j].Capabilities)
		if ci != cj {
			return ci > cj
		}
		return false // keep response-time / declaration order
	})

	return append(ok, failed...)
}
