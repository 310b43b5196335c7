// Package forms mirrors Meerkat form schemas into DHIS2 metadata: data
// elements per field, a program per event form, a data set per
// aggregate form, and organisation-unit access for operational clinics.
package forms

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meerkat/consul/internal/dhis2"
	"github.com/meerkat/consul/internal/meerkat"
)

// Form pairs a Meerkat form name with its export class.
type Form struct {
	Name  string
	Class dhis2.ExportClass
}

// FormResult reports what synchronizing one form did.
type FormResult struct {
	Form     string `json:"form"`
	Class    string `json:"class"`
	Elements int    `json:"dataElements"`
	Created  bool   `json:"created"`
	Error    string `json:"error,omitempty"`
}

type Service struct {
	catalogue *meerkat.Client
	dhis      *dhis2.Client
	registry  *dhis2.Registry
	uids      *dhis2.UIDProvider
	forms     []Form
	log       zerolog.Logger
}

func NewService(catalogue *meerkat.Client, dhis *dhis2.Client, registry *dhis2.Registry, uids *dhis2.UIDProvider, forms []Form, log zerolog.Logger) *Service {
	return &Service{
		catalogue: catalogue,
		dhis:      dhis,
		registry:  registry,
		uids:      uids,
		forms:     forms,
		log:       log,
	}
}

// Forms returns the configured form mappings.
func (s *Service) Forms() []Form {
	return s.forms
}

// Lookup finds the configured mapping for a form name.
func (s *Service) Lookup(name string) (Form, bool) {
	for _, f := range s.forms {
		if f.Name == name {
			return f, true
		}
	}
	return Form{}, false
}

// SyncAll synchronizes every configured form. Per-form failures are
// isolated into the result list; only catalogue-wide failures abort.
func (s *Service) SyncAll(ctx context.Context) ([]FormResult, error) {
	schemas, err := s.catalogue.ExportForms(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch form schemas: %w", err)
	}
	clinics, err := s.operationalClinics(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]FormResult, 0, len(s.forms))
	for _, form := range s.forms {
		res := FormResult{Form: form.Name, Class: form.Class.String()}
		fields, ok := schemas[form.Name]
		if !ok {
			res.Error = "form not present in catalogue"
			s.log.Error().Str("form", form.Name).Msg("form not present in catalogue")
			results = append(results, res)
			continue
		}
		if err := s.syncForm(ctx, form, fields, clinics, &res); err != nil {
			res.Error = err.Error()
			s.log.Error().Err(err).Str("form", form.Name).Msg("form synchronization failed")
		}
		results = append(results, res)
	}
	return results, nil
}

// operationalClinics resolves the organisation units that should hold
// data entry access: catalogue locations filing case reports at clinic
// level. Unresolvable clinics are logged and left out; they gain access
// on the next run after the location sync catches up.
func (s *Service) operationalClinics(ctx context.Context) ([]dhis2.Ref, error) {
	locations, err := s.catalogue.Locations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch location catalogue: %w", err)
	}
	var refs []dhis2.Ref
	for _, loc := range locations {
		if !loc.IsOperationalClinic() || loc.CountryLocationID == "" {
			continue
		}
		id, err := s.registry.Resolve(ctx, "organisationUnits", loc.CountryLocationID)
		if errors.Is(err, dhis2.ErrNotFound) {
			s.log.Warn().Str("name", loc.Name).Str("code", loc.CountryLocationID).Msg("clinic has no organisation unit yet")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve clinic %q: %w", loc.CountryLocationID, err)
		}
		refs = append(refs, dhis2.Ref{ID: id})
	}
	return refs, nil
}

func (s *Service) syncForm(ctx context.Context, form Form, fields []meerkat.Field, clinics []dhis2.Ref, res *FormResult) error {
	elements := make([]dhis2.Ref, 0, len(fields))
	for _, field := range fields {
		id, err := s.ensureDataElement(ctx, form.Class, field)
		if err != nil {
			return err
		}
		elements = append(elements, dhis2.Ref{ID: id})
	}
	res.Elements = len(elements)

	switch form.Class {
	case dhis2.ClassDataSet:
		return s.upsertDataSet(ctx, form, elements, clinics, res)
	default:
		return s.upsertProgram(ctx, form, elements, clinics, res)
	}
}

func (s *Service) ensureDataElement(ctx context.Context, class dhis2.ExportClass, field meerkat.Field) (string, error) {
	key := dhis2.ElementKey{Class: class, Field: field.Name}
	code := key.Code()

	id, err := s.registry.Resolve(ctx, "dataElements", code)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, dhis2.ErrNotFound) {
		return "", fmt.Errorf("resolve data element %q: %w", code, err)
	}

	uid, err := s.uids.Pop(ctx)
	if err != nil {
		return "", fmt.Errorf("create data element %q: %w", code, err)
	}
	name := class.Prefix() + " " + field.Name
	de := dhis2.DataElement{
		ID:              uid,
		Name:            name,
		ShortName:       shortName(name),
		Code:            code,
		DomainType:      domainType(class),
		ValueType:       valueType(field.Type),
		AggregationType: "NONE",
	}
	if err := s.dhis.Create(ctx, "dataElements", de); err != nil {
		return "", fmt.Errorf("create data element %q: %w", code, err)
	}
	s.registry.Store("dataElements", code, uid)
	s.log.Info().Str("code", code).Str("id", uid).Msg("created data element")
	return uid, nil
}

func (s *Service) upsertProgram(ctx context.Context, form Form, elements, clinics []dhis2.Ref, res *FormResult) error {
	stageElements := make([]dhis2.ProgramStageElement, 0, len(elements))
	for _, el := range elements {
		stageElements = append(stageElements, dhis2.ProgramStageElement{DataElement: el})
	}

	programID, err := s.registry.Resolve(ctx, "programs", form.Name)
	switch {
	case errors.Is(err, dhis2.ErrNotFound):
		programID, err = s.uids.Pop(ctx)
		if err != nil {
			return fmt.Errorf("create program %q: %w", form.Name, err)
		}
		program := dhis2.Program{
			ID:                programID,
			Name:              form.Name,
			ShortName:         shortName(form.Name),
			Code:              dhis2.ToCode(form.Name),
			ProgramType:       "WITHOUT_REGISTRATION",
			OrganisationUnits: clinics,
		}
		if err := s.dhis.Create(ctx, "programs", program); err != nil {
			return fmt.Errorf("create program %q: %w", form.Name, err)
		}
		s.registry.Store("programs", form.Name, programID)
		res.Created = true
		s.log.Info().Str("form", form.Name).Str("id", programID).Msg("created program")
	case err != nil:
		return fmt.Errorf("resolve program %q: %w", form.Name, err)
	default:
		assigned, err := s.assignedUnits(ctx, "programs", programID, clinics)
		if err != nil {
			return err
		}
		program := dhis2.Program{
			ID:                programID,
			Name:              form.Name,
			ShortName:         shortName(form.Name),
			Code:              dhis2.ToCode(form.Name),
			ProgramType:       "WITHOUT_REGISTRATION",
			OrganisationUnits: assigned,
		}
		if err := s.dhis.Update(ctx, "programs", programID, program); err != nil {
			return fmt.Errorf("update program %q: %w", form.Name, err)
		}
	}

	return s.upsertProgramStage(ctx, form, programID, stageElements)
}

func (s *Service) upsertProgramStage(ctx context.Context, form Form, programID string, elements []dhis2.ProgramStageElement) error {
	stageName := form.Name + " stage"
	stageID, err := s.registry.Resolve(ctx, "programStages", stageName)
	switch {
	case errors.Is(err, dhis2.ErrNotFound):
		stageID, err = s.uids.Pop(ctx)
		if err != nil {
			return fmt.Errorf("create program stage for %q: %w", form.Name, err)
		}
		stage := dhis2.ProgramStage{
			ID:                       stageID,
			Name:                     stageName,
			Code:                     dhis2.ToCode(stageName),
			Program:                  &dhis2.Ref{ID: programID},
			ProgramStageDataElements: elements,
		}
		if err := s.dhis.Create(ctx, "programStages", stage); err != nil {
			return fmt.Errorf("create program stage for %q: %w", form.Name, err)
		}
		s.registry.Store("programStages", stageName, stageID)
		return nil
	case err != nil:
		return fmt.Errorf("resolve program stage for %q: %w", form.Name, err)
	}

	stage := dhis2.ProgramStage{
		ID:                       stageID,
		Name:                     stageName,
		Code:                     dhis2.ToCode(stageName),
		Program:                  &dhis2.Ref{ID: programID},
		ProgramStageDataElements: elements,
	}
	if err := s.dhis.Update(ctx, "programStages", stageID, stage); err != nil {
		return fmt.Errorf("update program stage for %q: %w", form.Name, err)
	}
	return nil
}

func (s *Service) upsertDataSet(ctx context.Context, form Form, elements, clinics []dhis2.Ref, res *FormResult) error {
	setElements := make([]dhis2.DataSetElement, 0, len(elements))
	for _, el := range elements {
		setElements = append(setElements, dhis2.DataSetElement{DataElement: el})
	}

	id, err := s.registry.Resolve(ctx, "dataSets", form.Name)
	switch {
	case errors.Is(err, dhis2.ErrNotFound):
		id, err = s.uids.Pop(ctx)
		if err != nil {
			return fmt.Errorf("create data set %q: %w", form.Name, err)
		}
		ds := dhis2.DataSet{
			ID:                id,
			Name:              form.Name,
			ShortName:         shortName(form.Name),
			Code:              dhis2.ToCode(form.Name),
			PeriodType:        "Daily",
			DataSetElements:   setElements,
			OrganisationUnits: clinics,
		}
		if err := s.dhis.Create(ctx, "dataSets", ds); err != nil {
			return fmt.Errorf("create data set %q: %w", form.Name, err)
		}
		s.registry.Store("dataSets", form.Name, id)
		res.Created = true
		s.log.Info().Str("form", form.Name).Str("id", id).Msg("created data set")
		return nil
	case err != nil:
		return fmt.Errorf("resolve data set %q: %w", form.Name, err)
	}

	assigned, err := s.assignedUnits(ctx, "dataSets", id, clinics)
	if err != nil {
		return err
	}
	ds := dhis2.DataSet{
		ID:                id,
		Name:              form.Name,
		ShortName:         shortName(form.Name),
		Code:              dhis2.ToCode(form.Name),
		PeriodType:        "Daily",
		DataSetElements:   setElements,
		OrganisationUnits: assigned,
	}
	if err := s.dhis.Update(ctx, "dataSets", id, ds); err != nil {
		return fmt.Errorf("update data set %q: %w", form.Name, err)
	}
	return nil
}

// assignedUnits merges the organisation units already attached in DHIS2
// with the current operational clinics. Union only: units are never
// detached once granted access, so a clinic dropping off the catalogue
// cannot silently lose its submitted data's home.
func (s *Service) assignedUnits(ctx context.Context, resource, id string, clinics []dhis2.Ref) ([]dhis2.Ref, error) {
	existing, err := s.dhis.OrganisationUnitRefs(ctx, resource, id)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s organisation units: %w", resource, id, err)
	}
	return unionRefs(existing, clinics), nil
}

func unionRefs(existing, current []dhis2.Ref) []dhis2.Ref {
	seen := make(map[string]bool, len(existing))
	out := make([]dhis2.Ref, 0, len(existing)+len(current))
	for _, r := range existing {
		if !seen[r.ID] {
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	for _, r := range current {
		if !seen[r.ID] {
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out
}

const shortNameMaxLen = 50

func shortName(name string) string {
	runes := []rune(name)
	if len(runes) > shortNameMaxLen {
		return string(runes[:shortNameMaxLen])
	}
	return name
}

func domainType(class dhis2.ExportClass) string {
	if class == dhis2.ClassDataSet {
		return "AGGREGATE"
	}
	return "TRACKER"
}

func valueType(fieldType string) string {
	switch fieldType {
	case "integer", "int":
		return "INTEGER"
	case "decimal", "number":
		return "NUMBER"
	case "date":
		return "DATE"
	case "datetime", "dateTime":
		return "DATETIME"
	default:
		return "TEXT"
	}
}
