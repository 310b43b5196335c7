// Package locations mirrors the Meerkat location hierarchy into DHIS2
// organisation units.
package locations

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/meerkat/consul/internal/dhis2"
	"github.com/meerkat/consul/internal/meerkat"
)

// ErrCountryNotFound reports that DHIS2 has no organisation unit filed
// under the configured country's code. The country is provisioned out of
// band; creating it here would silently root the whole hierarchy under a
// fabricated node.
var ErrCountryNotFound = errors.New("locations: country organisation unit not found in DHIS2")

// ErrConflict reports that more than one DHIS2 organisation unit carries
// the country code. Every upsert below the root depends on picking the
// right parent, so this aborts before any child is touched.
var ErrConflict = errors.New("locations: ambiguous country organisation unit")

type Service struct {
	catalogue *meerkat.Client
	dhis      *dhis2.Client
	registry  *dhis2.Registry
	uids      *dhis2.UIDProvider
	countryID int
	log       zerolog.Logger
}

func NewService(catalogue *meerkat.Client, dhis *dhis2.Client, registry *dhis2.Registry, uids *dhis2.UIDProvider, countryID int, log zerolog.Logger) *Service {
	return &Service{
		catalogue: catalogue,
		dhis:      dhis,
		registry:  registry,
		uids:      uids,
		countryID: countryID,
		log:       log,
	}
}

// SyncResult counts what one tree walk did.
type SyncResult struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Skipped  int `json:"skipped"`
}

// SyncTree walks the Meerkat location tree depth-first in source order
// and upserts one organisation unit per coded node. Lookup-by-code
// precedes every create, so re-running creates nothing new.
func (s *Service) SyncTree(ctx context.Context) (*SyncResult, error) {
	tree, err := s.catalogue.LocationTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch location tree: %w", err)
	}

	rootID, err := s.resolveCountry(ctx)
	if err != nil {
		return nil, err
	}

	res := &SyncResult{}
	for _, node := range tree.Nodes {
		if err := s.syncNode(ctx, node, rootID, res); err != nil {
			return res, err
		}
	}
	s.log.Info().
		Int("created", res.Created).
		Int("existing", res.Existing).
		Int("skipped", res.Skipped).
		Msg("location tree synchronized")
	return res, nil
}

// resolveCountry looks the root up directly rather than through the
// registry: zero matches and multiple matches are fatal here, where the
// registry would tolerate them.
func (s *Service) resolveCountry(ctx context.Context) (string, error) {
	country, err := s.catalogue.Location(ctx, s.countryID)
	if err != nil {
		return "", fmt.Errorf("fetch country location %d: %w", s.countryID, err)
	}
	if country.CountryLocationID == "" {
		return "", ErrCountryNotFound
	}

	code := dhis2.ToCode(country.CountryLocationID)
	matches, err := s.dhis.FindByCode(ctx, "organisationUnits", code)
	if err != nil {
		return "", fmt.Errorf("look up country by code %q: %w", code, err)
	}
	switch len(matches) {
	case 0:
		s.log.Error().Str("code", code).Msg("country organisation unit missing in DHIS2")
		return "", ErrCountryNotFound
	case 1:
		return matches[0].ID, nil
	default:
		s.log.Error().Str("code", code).Int("matches", len(matches)).Msg("country code is ambiguous in DHIS2")
		return "", ErrConflict
	}
}

func (s *Service) syncNode(ctx context.Context, node meerkat.TreeNode, parentID string, res *SyncResult) error {
	loc, err := s.catalogue.Location(ctx, node.ID)
	if err != nil {
		return fmt.Errorf("fetch location %d: %w", node.ID, err)
	}

	nextParent := parentID
	switch {
	case loc.CountryLocationID == "":
		// Uncoded nodes have no DHIS2 mirror; their children hang off
		// the nearest synced ancestor.
		res.Skipped++
		s.log.Debug().Int("location", loc.ID).Str("name", loc.Name).Msg("location has no code, skipping")
	default:
		id, err := s.registry.Resolve(ctx, "organisationUnits", loc.CountryLocationID)
		switch {
		case errors.Is(err, dhis2.ErrNotFound):
			id, err = s.createOrgUnit(ctx, loc, parentID)
			if err != nil {
				return err
			}
			res.Created++
		case err != nil:
			return fmt.Errorf("resolve location %d: %w", loc.ID, err)
		default:
			res.Existing++
			s.log.Debug().Str("name", loc.Name).Str("id", id).Msg("organisation unit already exists")
		}
		nextParent = id
	}

	for _, child := range node.Nodes {
		if err := s.syncNode(ctx, child, nextParent, res); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) createOrgUnit(ctx context.Context, loc *meerkat.Location, parentID string) (string, error) {
	uid, err := s.uids.Pop(ctx)
	if err != nil {
		return "", fmt.Errorf("create organisation unit for location %d: %w", loc.ID, err)
	}
	ou := dhis2.OrgUnit{
		ID:          uid,
		Name:        loc.Name,
		ShortName:   loc.Name,
		Code:        dhis2.ToCode(loc.CountryLocationID),
		OpeningDate: loc.OpeningDate(),
		Parent:      &dhis2.Ref{ID: parentID},
	}
	if err := s.dhis.Create(ctx, "organisationUnits", ou); err != nil {
		return "", fmt.Errorf("create organisation unit %q: %w", ou.Code, err)
	}
	s.registry.Store("organisationUnits", loc.CountryLocationID, uid)
	s.log.Info().Str("name", loc.Name).Str("code", ou.Code).Str("id", uid).Msg("created organisation unit")
	return uid, nil
}
