package dashboard

import (
	"context"
	"math"
	"sort"

	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/sla"
)

// Kpi aggregates live classifications for one scope.
type Kpi struct {
	Brand      string         `json:"brand,omitempty"`
	Country    string         `json:"country,omitempty"`
	ByStage    map[string]int `json:"by_stage"`
	Sla        sla.Tally      `json:"sla"`
	OnTimeRate float64        `json:"on_time_rate"`
	Pending    int            `json:"pending"`
	Urgent     int            `json:"urgent"`
	Critical   int            `json:"critical"`
}

func newKpi(brand, country string) *Kpi {
	k := &Kpi{Brand: brand, Country: country, ByStage: make(map[string]int, len(sla.Stages))}
	for _, s := range sla.Stages {
		k.ByStage[s.String()] = 0
	}
	return k
}

func (k *Kpi) add(c sla.Classification) {
	k.ByStage[c.Stage.String()]++
	k.Sla.Add(c.SlaStatus)
	if c.PendingStatus == sla.PendingStatusPending {
		k.Pending++
	}
	switch c.BreachSeverity {
	case sla.SeverityUrgent:
		k.Urgent++
	case sla.SeverityCritical:
		k.Critical++
	}
}

func (k *Kpi) finish() {
	k.OnTimeRate = math.Round(k.Sla.OnTimeRate()*100) / 100
}

type KpiResponse struct {
	Overall  Kpi    `json:"overall"`
	Groups   []Kpi  `json:"groups"`
	AsOf     string `json:"as_of"`
	Timezone string `json:"timezone"`
}

// Kpis classifies every confirmed order in scope and totals the results per
// order table and overall. Classification filters on f are ignored.
func (s *Service) Kpis(ctx context.Context, f OrderFilter) (KpiResponse, error) {
	scope := OrderFilter{Brand: f.Brand, Country: f.Country, From: f.From, To: f.To}
	overall := newKpi("", "")
	groups := make(map[string]*Kpi)

	err := s.eachOrder(ctx, scope, func(table models.OrderTable, co ClassifiedOrder) {
		g, ok := groups[table.Name]
		if !ok {
			g = newKpi(table.Brand, table.Country)
			groups[table.Name] = g
		}
		g.add(co.Classification)
		overall.add(co.Classification)
	})
	if err != nil {
		return KpiResponse{}, err
	}

	resp := KpiResponse{
		Groups:   make([]Kpi, 0, len(groups)),
		AsOf:     formatTime(s.now()),
		Timezone: s.location().String(),
	}
	for _, g := range groups {
		g.finish()
		resp.Groups = append(resp.Groups, *g)
	}
	sort.Slice(resp.Groups, func(i, j int) bool {
		if resp.Groups[i].Brand != resp.Groups[j].Brand {
			return resp.Groups[i].Brand < resp.Groups[j].Brand
		}
		return resp.Groups[i].Country < resp.Groups[j].Country
	})
	overall.finish()
	resp.Overall = *overall
	return resp, nil
}
