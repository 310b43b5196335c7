// Package export translates Meerkat form submissions into DHIS2 events
// and data value sets and ships them through the background dispatcher.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meerkat/consul/internal/dhis2"
	"github.com/meerkat/consul/internal/domain/forms"
	"github.com/meerkat/consul/internal/meerkat"
	"github.com/meerkat/consul/internal/platform/dispatch"
)

// ErrUnknownForm rejects a whole batch addressed to a form that has no
// configured export mapping.
var ErrUnknownForm = errors.New("export: form not supported")

const (
	keySubmissionDate = "SubmissionDate"
	keyDeviceID       = "deviceid"
	keyInstanceID     = "meta/instanceID"
)

var submissionDateLayouts = []string{
	time.RFC3339,
	"Jan 2, 2006 3:04:05 PM",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type Service struct {
	forms     *forms.Service
	catalogue *meerkat.Client
	dhis      *dhis2.Client
	registry  *dhis2.Registry
	pool      *dispatch.Pool
	log       zerolog.Logger
}

func NewService(formSvc *forms.Service, catalogue *meerkat.Client, dhis *dhis2.Client, registry *dhis2.Registry, pool *dispatch.Pool, log zerolog.Logger) *Service {
	return &Service{
		forms:     formSvc,
		catalogue: catalogue,
		dhis:      dhis,
		registry:  registry,
		pool:      pool,
		log:       log,
	}
}

// ProcessBatch translates every submission in the envelope and queues
// the resulting writes. Submissions fail individually; one malformed
// entry never blocks its siblings.
func (s *Service) ProcessBatch(ctx context.Context, formID string, env Envelope) (*BatchResult, error) {
	form, ok := s.forms.Lookup(formID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownForm, formID)
	}

	devices, err := s.deviceIndex(ctx)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{Form: form.Name, Class: form.Class.String()}
	switch form.Class {
	case dhis2.ClassDataSet:
		err = s.processDataSetBatch(ctx, form, env, devices, res)
	default:
		err = s.processEventBatch(ctx, form, env, devices, res)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) processEventBatch(ctx context.Context, form forms.Form, env Envelope, devices map[string]meerkat.Location, res *BatchResult) error {
	programID, err := s.registry.Resolve(ctx, "programs", form.Name)
	if err != nil {
		return fmt.Errorf("resolve program %q: %w", form.Name, err)
	}

	var events []dhis2.Event
	for i, msg := range env.Messages {
		event, reason := s.translateEvent(ctx, form, programID, msg.Body.Data, devices)
		if reason != "" {
			res.skip(i, reason)
			s.log.Warn().Str("form", form.Name).Int("index", i).Str("reason", reason).Msg("submission skipped")
			continue
		}
		events = append(events, *event)
		res.queue(i)
	}

	if len(events) == 0 {
		return nil
	}
	payload := dhis2.EventPayload{Events: events}
	ok := s.pool.Submit(dispatch.Job{
		Name: fmt.Sprintf("export events %s (%d)", form.Name, len(events)),
		Run: func(ctx context.Context) error {
			return s.dhis.Create(ctx, "events", payload)
		},
	})
	if !ok {
		s.log.Error().Str("form", form.Name).Int("events", len(events)).Msg("dispatcher closed, dropping batch")
		res.dropQueued(reasonDispatcherDown)
	}
	return nil
}

func (s *Service) processDataSetBatch(ctx context.Context, form forms.Form, env Envelope, devices map[string]meerkat.Location, res *BatchResult) error {
	dataSetID, err := s.registry.Resolve(ctx, "dataSets", form.Name)
	if err != nil {
		return fmt.Errorf("resolve data set %q: %w", form.Name, err)
	}

	for i, msg := range env.Messages {
		dvs, reason := s.translateDataValueSet(ctx, form, dataSetID, msg.Body.Data, devices)
		if reason != "" {
			res.skip(i, reason)
			s.log.Warn().Str("form", form.Name).Int("index", i).Str("reason", reason).Msg("submission skipped")
			continue
		}
		payload := *dvs
		ok := s.pool.Submit(dispatch.Job{
			Name: fmt.Sprintf("export data values %s period %s", form.Name, payload.Period),
			Run: func(ctx context.Context) error {
				return s.dhis.Create(ctx, "dataValueSets", payload)
			},
		})
		if !ok {
			s.log.Error().Str("form", form.Name).Int("index", i).Msg("dispatcher closed, dropping submission")
			res.skip(i, reasonDispatcherDown)
			continue
		}
		res.queue(i)
	}
	return nil
}

func (s *Service) translateEvent(ctx context.Context, form forms.Form, programID string, data map[string]string, devices map[string]meerkat.Location) (*dhis2.Event, string) {
	date, orgUnit, reason := s.commonFields(ctx, data, devices)
	if reason != "" {
		return nil, reason
	}
	instanceID := data[keyInstanceID]
	if instanceID == "" {
		return nil, "missing meta/instanceID"
	}

	values := s.dataValues(ctx, form.Class, data)
	eventValues := make([]dhis2.EventDataValue, 0, len(values))
	for _, v := range values {
		eventValues = append(eventValues, dhis2.EventDataValue{DataElement: v.DataElement, Value: v.Value})
	}
	return &dhis2.Event{
		Event:      dhis2.EventUID(instanceID),
		Program:    programID,
		OrgUnit:    orgUnit,
		EventDate:  date.Format("2006-01-02"),
		Status:     "COMPLETED",
		DataValues: eventValues,
	}, ""
}

func (s *Service) translateDataValueSet(ctx context.Context, form forms.Form, dataSetID string, data map[string]string, devices map[string]meerkat.Location) (*dhis2.DataValueSet, string) {
	date, orgUnit, reason := s.commonFields(ctx, data, devices)
	if reason != "" {
		return nil, reason
	}
	period := periodKey(dataSetPeriodType, date)
	if period == "" {
		return nil, fmt.Sprintf("unsupported period type %q", dataSetPeriodType)
	}
	return &dhis2.DataValueSet{
		DataSet:    dataSetID,
		Period:     period,
		OrgUnit:    orgUnit,
		DataValues: s.dataValues(ctx, form.Class, data),
	}, ""
}

// commonFields validates the reserved keys every submission must carry
// and resolves the submitting device to its organisation unit.
func (s *Service) commonFields(ctx context.Context, data map[string]string, devices map[string]meerkat.Location) (time.Time, string, string) {
	raw := data[keySubmissionDate]
	if raw == "" {
		return time.Time{}, "", "missing SubmissionDate"
	}
	date, ok := parseSubmissionDate(raw)
	if !ok {
		return time.Time{}, "", fmt.Sprintf("unparseable SubmissionDate %q", raw)
	}

	deviceID := data[keyDeviceID]
	if deviceID == "" {
		return time.Time{}, "", "missing deviceid"
	}
	loc, ok := devices[deviceID]
	if !ok || loc.CountryLocationID == "" {
		return time.Time{}, "", fmt.Sprintf("unknown device %q", deviceID)
	}
	orgUnit, err := s.registry.Resolve(ctx, "organisationUnits", loc.CountryLocationID)
	if err != nil {
		return time.Time{}, "", fmt.Sprintf("no organisation unit for device %q", deviceID)
	}
	return date, orgUnit, ""
}

// dataValues maps the submission's field values onto data element
// identifiers. Fields without a synchronized element are dropped with a
// debug trace; the metadata sync owns closing that gap.
func (s *Service) dataValues(ctx context.Context, class dhis2.ExportClass, data map[string]string) []dhis2.DataValue {
	var out []dhis2.DataValue
	for field, value := range data {
		if reservedKey(field) {
			continue
		}
		key := dhis2.ElementKey{Class: class, Field: field}
		id, err := s.registry.Resolve(ctx, "dataElements", key.Code())
		if err != nil {
			s.log.Debug().Str("field", field).Str("code", key.Code()).Msg("no data element for field, dropping value")
			continue
		}
		out = append(out, dhis2.DataValue{DataElement: id, Value: value})
	}
	return out
}

// deviceIndex fetches the location catalogue once per batch and keys it
// for device lookup. Catalogues key the /locations mapping by device or
// location id; the detail record may also carry an explicit deviceid
// field. Both spellings are indexed so either deployment shape resolves.
func (s *Service) deviceIndex(ctx context.Context) (map[string]meerkat.Location, error) {
	locations, err := s.catalogue.Locations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch location catalogue: %w", err)
	}
	index := make(map[string]meerkat.Location, len(locations))
	for key, loc := range locations {
		index[key] = loc
		if loc.DeviceID != "" {
			index[loc.DeviceID] = loc
		}
	}
	return index, nil
}

func reservedKey(field string) bool {
	switch field {
	case keySubmissionDate, keyDeviceID, keyInstanceID:
		return true
	}
	// ODK-style bookkeeping keys travel alongside the field data.
	return len(field) > 0 && field[0] == '*'
}

func parseSubmissionDate(raw string) (time.Time, bool) {
	for _, layout := range submissionDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Data sets are provisioned with a Daily period type; see the forms
// synchronizer.
const dataSetPeriodType = "Daily"

// periodKey renders a DHIS2 period key. Only daily periods have a
// rendering; submissions against any other period type are skipped.
func periodKey(periodType string, t time.Time) string {
	if periodType == "Daily" {
		return t.Format("20060102")
	}
	return ""
}

const reasonDispatcherDown = "dispatcher unavailable"

func (r *BatchResult) queue(i int) {
	r.Queued++
	r.Items = append(r.Items, ItemResult{Index: i, Status: statusQueued})
}

// dropQueued downgrades every queued item. A batch accepted while the
// dispatcher shuts down must not acknowledge work that was never
// enqueued.
func (r *BatchResult) dropQueued(reason string) {
	for i := range r.Items {
		if r.Items[i].Status == statusQueued {
			r.Items[i].Status = statusSkipped
			r.Items[i].Reason = reason
		}
	}
	r.Skipped += r.Queued
	r.Queued = 0
}

func (r *BatchResult) skip(i int, reason string) {
	r.Skipped++
	r.Items = append(r.Items, ItemResult{Index: i, Status: statusSkipped, Reason: reason})
}
