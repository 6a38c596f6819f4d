package sampler

import "context"

// netBaselineTTL is how many consecutive listings an interface may be absent
// from before its baseline is dropped.
const netBaselineTTL = 12

type netBaseline struct {
	counters NetCounters
	missed   int
}

func (s *Sampler) sampleNetwork(ctx context.Context) (map[string]InterfaceSample, error) {
	stats, err := s.src.netCounters(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]InterfaceSample, len(stats))
	for _, st := range stats {
		if st.Name == "" || s.ignored(st.Name) {
			continue
		}
		cur := NetCounters{
			BytesReceived:      st.BytesRecv,
			BytesTransmitted:   st.BytesSent,
			PacketsReceived:    st.PacketsRecv,
			PacketsTransmitted: st.PacketsSent,
			ErrorsReceived:     st.Errin,
			ErrorsTransmitted:  st.Errout,
		}
		// An interface first seen after startup contributes everything it
		// has counted so far. One that briefly dropped out of the listing is
		// measured against its old baseline.
		delta := cur
		if prev, ok := s.lastNet[st.Name]; ok {
			delta = cur.sub(prev.counters)
		}
		out[st.Name] = InterfaceSample{Name: st.Name, Total: cur, Delta: delta}
	}

	for name, b := range s.lastNet {
		if _, ok := out[name]; ok {
			continue
		}
		b.missed++
		if b.missed > netBaselineTTL {
			delete(s.lastNet, name)
		}
	}
	for name, is := range out {
		s.lastNet[name] = &netBaseline{counters: is.Total}
	}
	return out, nil
}
