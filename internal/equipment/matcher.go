// Package equipment resolves extracted nameplate data against the equipment
// registry, creating new records on first sight.
package equipment

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/resilience"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store"
)

// Matcher finds or creates equipment records from extraction output.
type Matcher struct {
	store store.Store
	retry resilience.RetryConfig
}

func NewMatcher(st store.Store, retry resilience.RetryConfig) *Matcher {
	return &Matcher{store: st, retry: retry}
}

// Resolution is the outcome of matching an extraction against the registry.
type Resolution struct {
	Record  *model.EquipmentRecord
	Created bool
}

// Resolve matches an extraction against the registry. Both manufacturer and
// model are required for an identity; anything less returns a nil record so
// the caller can route the run as unmatched. Matching is done on normalized
// fields, and an existing match bumps the record's activity counter.
func (m *Matcher) Resolve(ctx context.Context, extract *model.ExtractPayload) (*Resolution, error) {
	if extract == nil {
		return &Resolution{}, nil
	}

	manufacturer := Normalize(extract.Manufacturer)
	mdl := Normalize(extract.Model)
	if manufacturer == "" || mdl == "" {
		zap.L().Debug("extraction lacks equipment identity",
			zap.String("manufacturer", manufacturer),
			zap.String("model", mdl))
		return &Resolution{}, nil
	}

	existing, err := resilience.DoVal(ctx, m.retry, func(ctx context.Context) (*model.EquipmentRecord, error) {
		return m.store.FindEquipment(ctx, manufacturer, mdl)
	})
	if err != nil {
		return nil, eris.Wrap(err, "equipment: find")
	}
	if existing != nil {
		if err := m.store.IncrementEquipmentActivity(ctx, existing.ID); err != nil {
			zap.L().Warn("equipment activity bump failed",
				zap.String("equipment_id", existing.ID),
				zap.Error(err))
		}
		return &Resolution{Record: existing}, nil
	}

	candidate := &model.EquipmentRecord{
		Manufacturer: manufacturer,
		Model:        mdl,
		Serial:       extract.Serial,
		Location:     extract.Location,
	}
	type createResult struct {
		rec     *model.EquipmentRecord
		created bool
	}
	res, err := resilience.DoVal(ctx, m.retry, func(ctx context.Context) (createResult, error) {
		rec, created, err := m.store.CreateEquipment(ctx, candidate)
		return createResult{rec: rec, created: created}, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "equipment: create")
	}

	if res.created {
		zap.L().Info("equipment record created",
			zap.String("equipment_id", res.rec.ID),
			zap.String("manufacturer", manufacturer),
			zap.String("model", mdl))
	}
	return &Resolution{Record: res.rec, Created: res.created}, nil
}
