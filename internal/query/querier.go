package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/tymiles003/FlowTrack/internal/ipaddr"
	"github.com/tymiles003/FlowTrack/internal/model"
)

// Querier defines the read side used by the reporting API.
type Querier interface {
	Talkers(ctx context.Context, resolve bool) ([]TalkerView, error)
	TopTalkers(ctx context.Context, limit int, resolve bool) ([]TalkerView, error)
	Flows(ctx context.Context, start, end time.Time, resolve bool) ([]FlowView, error)
	Resolve(ctx context.Context, target string) (string, error)
}

// TalkerView is a ranked talker row rendered for display.
type TalkerView struct {
	Rank         int       `json:"rank"`
	ID           string    `json:"id"`
	InternalIP   string    `json:"internal_ip"`
	ExternalIP   string    `json:"external_ip"`
	InternalName string    `json:"internal_name,omitempty"`
	ExternalName string    `json:"external_name,omitempty"`
	Score        int64     `json:"score"`
	LastUpdate   time.Time `json:"last_update"`
}

// FlowView is a stored flow rendered for display.
type FlowView struct {
	ID         string    `json:"id"`
	SrcIP      string    `json:"src_ip"`
	DstIP      string    `json:"dst_ip"`
	SrcName    string    `json:"src_name,omitempty"`
	DstName    string    `json:"dst_name,omitempty"`
	SrcPort    uint16    `json:"src_port"`
	DstPort    uint16    `json:"dst_port"`
	Protocol   string    `json:"protocol"`
	Bytes      uint64    `json:"bytes"`
	Packets    uint64    `json:"packets"`
	ObservedAt time.Time `json:"observed_at"`
}

// storeQuerier implements Querier over the configured stores.
type storeQuerier struct {
	flows    model.FlowStore
	talkers  model.TalkerStore
	resolver *ipaddr.Resolver
}

// NewQuerier creates a querier. resolver may be nil, in which case names are
// never filled in and Resolve fails.
func NewQuerier(flows model.FlowStore, talkers model.TalkerStore, resolver *ipaddr.Resolver) Querier {
	return &storeQuerier{flows: flows, talkers: talkers, resolver: resolver}
}

// Talkers returns the whole ranked table.
func (q *storeQuerier) Talkers(ctx context.Context, resolve bool) ([]TalkerView, error) {
	rows, err := q.talkers.ListRanked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list talkers: %w", err)
	}
	return q.talkerViews(ctx, rows, resolve), nil
}

// TopTalkers returns the first limit rows of the ranked table.
func (q *storeQuerier) TopTalkers(ctx context.Context, limit int, resolve bool) ([]TalkerView, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := q.talkers.TopN(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top talkers: %w", err)
	}
	return q.talkerViews(ctx, rows, resolve), nil
}

// Flows returns the stored flows observed in [start, end].
func (q *storeQuerier) Flows(ctx context.Context, start, end time.Time, resolve bool) ([]FlowView, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("window end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	records, err := q.flows.QueryWindow(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	views := make([]FlowView, 0, len(records))
	for _, r := range records {
		v := FlowView{
			ID:         r.ID,
			SrcIP:      ipaddr.ToText(r.SrcIP),
			DstIP:      ipaddr.ToText(r.DstIP),
			SrcPort:    r.SrcPort,
			DstPort:    r.DstPort,
			Protocol:   ProtocolName(r.Protocol),
			Bytes:      r.Bytes,
			Packets:    r.Packets,
			ObservedAt: r.ObservedAt,
		}
		if resolve {
			v.SrcName = q.name(ctx, v.SrcIP)
			v.DstName = q.name(ctx, v.DstIP)
		}
		views = append(views, v)
	}
	return views, nil
}

// Resolve looks up a literal address or a host name.
func (q *storeQuerier) Resolve(ctx context.Context, target string) (string, error) {
	if q.resolver == nil {
		return "", &ipaddr.ResolutionError{Target: target}
	}
	return q.resolver.Resolve(ctx, target)
}

func (q *storeQuerier) talkerViews(ctx context.Context, rows []model.RecentTalker, resolve bool) []TalkerView {
	views := make([]TalkerView, 0, len(rows))
	for i, r := range rows {
		v := TalkerView{
			Rank:       i + 1,
			ID:         r.ID,
			InternalIP: ipaddr.ToText(r.InternalIP),
			ExternalIP: ipaddr.ToText(r.ExternalIP),
			Score:      r.Score,
			LastUpdate: r.LastUpdate,
		}
		if resolve {
			v.InternalName = q.name(ctx, v.InternalIP)
			v.ExternalName = q.name(ctx, v.ExternalIP)
		}
		views = append(views, v)
	}
	return views
}

// name is best effort; a failed lookup leaves the name empty.
func (q *storeQuerier) name(ctx context.Context, addr string) string {
	if q.resolver == nil {
		return ""
	}
	n, err := q.resolver.Resolve(ctx, addr)
	if err != nil {
		return ""
	}
	return n
}

// ProtocolName renders an IP protocol number, e.g. 6 as "TCP".
func ProtocolName(p uint8) string {
	return layers.IPProtocol(p).String()
}
