package admin

import "srtla-rec/internal/srtla"

// BuildSnapshot converts live registry state into the JSON-safe
// GroupView shape. Must only be called from the reactor goroutine,
// which owns every pointer it reads here.
func BuildSnapshot(groups []*srtla.Group) []GroupView {
	views := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		gv := GroupView{GroupID: hexID(g.ID)}
		for _, c := range g.Connections {
			gv.Connections = append(gv.Connections, ConnectionView{
				Peer:          c.Addr.String(),
				ErrorPoints:   c.ErrorPoints,
				WeightPercent: c.WeightPercent,
				AckThrottle:   c.AckThrottleFactor,
				BytesTotal:    c.Metrics.Bytes,
				PacketsTotal:  c.Metrics.Packets,
				NakCount:      c.Metrics.NackCount,
			})
		}
		views = append(views, gv)
	}
	return views
}
