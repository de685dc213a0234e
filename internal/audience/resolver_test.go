package audience

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/tokopoints/campaigner/internal/faults"
)

// memDirectory is an in-memory Directory with stable insertion order.
type memDirectory struct {
	recipients []Recipient
	err        error
}

func (d *memDirectory) CountAll(ctx context.Context) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	return len(d.recipients), nil
}

func (d *memDirectory) ListAll(ctx context.Context) ([]Recipient, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.recipients, nil
}

func (d *memDirectory) GetByIDs(ctx context.Context, ids []string) ([]Recipient, error) {
	if d.err != nil {
		return nil, d.err
	}
	byID := make(map[string]Recipient, len(d.recipients))
	for _, r := range d.recipients {
		byID[r.ID] = r
	}
	var out []Recipient
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// seededCorpus builds 100 users: 60 Shop opt-in valid, 10 Shop opted
// out, 30 non-Shop.
func seededCorpus() *memDirectory {
	dir := &memDirectory{}
	for i := 0; i < 60; i++ {
		dir.recipients = append(dir.recipients, Recipient{
			ID:            fmt.Sprintf("shop-ok-%02d", i),
			Name:          fmt.Sprintf("Shop %02d", i),
			Phone:         fmt.Sprintf("60120000%03d", i),
			OptIn:         true,
			ValidWhatsApp: true,
			OrgType:       "Shop",
			State:         "Selangor",
		})
	}
	for i := 0; i < 10; i++ {
		dir.recipients = append(dir.recipients, Recipient{
			ID:            fmt.Sprintf("shop-optout-%02d", i),
			Phone:         fmt.Sprintf("60121000%03d", i),
			OptIn:         false,
			ValidWhatsApp: true,
			OrgType:       "Shop",
		})
	}
	for i := 0; i < 30; i++ {
		dir.recipients = append(dir.recipients, Recipient{
			ID:            fmt.Sprintf("dist-%02d", i),
			Phone:         fmt.Sprintf("60122000%03d", i),
			OptIn:         true,
			ValidWhatsApp: true,
			OrgType:       "Distributor",
		})
	}
	return dir
}

func TestResolveSeededScenario(t *testing.T) {
	rv := NewResolver(seededCorpus(), nil)

	res, err := rv.Resolve(context.Background(), Request{
		Mode: ModeFilter,
		Spec: &FilterSpec{
			OrgTypes:          []string{"Shop"},
			OptInOnly:         true,
			ValidWhatsAppOnly: true,
		},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.TotalAllUsers != 100 {
		t.Errorf("TotalAllUsers = %d, want 100", res.TotalAllUsers)
	}
	if res.TotalMatched != 70 {
		t.Errorf("TotalMatched = %d, want 70", res.TotalMatched)
	}
	if res.EligibleCount != 60 {
		t.Errorf("EligibleCount = %d, want 60", res.EligibleCount)
	}
	if res.Excluded.OptOut != 10 {
		t.Errorf("Excluded.OptOut = %d, want 10", res.Excluded.OptOut)
	}
}

func TestResolveAccountingInvariant(t *testing.T) {
	dir := seededCorpus()
	// Poke some holes: missing phones, invalid WhatsApp.
	dir.recipients[0].Phone = ""
	dir.recipients[1].Phone = ""
	dir.recipients[2].ValidWhatsApp = false

	rv := NewResolver(dir, nil)
	specs := []FilterSpec{
		{},
		{OrgTypes: []string{"Shop"}},
		{OptInOnly: true, ValidWhatsAppOnly: true},
		{OrgTypes: []string{"Shop"}, OptInOnly: true, ValidWhatsAppOnly: true},
		{States: []string{"Selangor"}},
	}

	for i, spec := range specs {
		spec := spec
		res, err := rv.Resolve(context.Background(), Request{Mode: ModeFilter, Spec: &spec})
		if err != nil {
			t.Fatalf("spec %d: %v", i, err)
		}
		if got := res.EligibleCount + res.ExcludedTotal; got != res.TotalMatched {
			t.Errorf("spec %d: eligible+excluded = %d, matched = %d", i, got, res.TotalMatched)
		}
		if res.TotalMatched > res.TotalAllUsers {
			t.Errorf("spec %d: matched %d exceeds total %d", i, res.TotalMatched, res.TotalAllUsers)
		}
		if res.Excluded.Total() != res.ExcludedTotal {
			t.Errorf("spec %d: bucket sum %d != excluded_total %d", i, res.Excluded.Total(), res.ExcludedTotal)
		}
	}
}

func TestResolveDeterministic(t *testing.T) {
	rv := NewResolver(seededCorpus(), nil)
	req := Request{
		Mode: ModeFilter,
		Spec: &FilterSpec{OrgTypes: []string{"Shop"}, OptInOnly: true},
	}

	first, err := rv.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := rv.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("resolving an unchanged spec twice should yield identical results")
	}
}

func TestResolvePreviewBounds(t *testing.T) {
	rv := NewResolver(seededCorpus(), nil)

	res, err := rv.Resolve(context.Background(), Request{
		Mode: ModeFilter,
		Spec: &FilterSpec{OrgTypes: []string{"Shop"}, OptInOnly: true},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(res.Preview) != PreviewLimit {
		t.Errorf("preview length = %d, want %d", len(res.Preview), PreviewLimit)
	}
	if want := res.EligibleCount - PreviewLimit; res.PreviewOverflow != want {
		t.Errorf("PreviewOverflow = %d, want %d", res.PreviewOverflow, want)
	}
	// Directory order, not random.
	if res.Preview[0].ID != "shop-ok-00" || res.Preview[19].ID != "shop-ok-19" {
		t.Errorf("preview should follow directory order, got first=%s last=%s",
			res.Preview[0].ID, res.Preview[19].ID)
	}
}

func TestResolvePreviewUnderLimit(t *testing.T) {
	dir := &memDirectory{recipients: []Recipient{
		{ID: "a", Phone: "601", OptIn: true, ValidWhatsApp: true},
		{ID: "b", Phone: "602", OptIn: true, ValidWhatsApp: true},
	}}
	rv := NewResolver(dir, nil)

	res, err := rv.Resolve(context.Background(), Request{Mode: ModeFilter, Spec: &FilterSpec{}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Preview) != 2 || res.PreviewOverflow != 0 {
		t.Errorf("preview = %d overflow = %d, want 2/0", len(res.Preview), res.PreviewOverflow)
	}
}

func TestResolveSpecificMode(t *testing.T) {
	dir := seededCorpus()
	rv := NewResolver(dir, nil)

	res, err := rv.Resolve(context.Background(), Request{
		Mode:         ModeSpecific,
		RecipientIDs: []string{"shop-ok-01", "shop-optout-00", "missing-id"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.TotalMatched != 2 {
		t.Errorf("TotalMatched = %d, want 2 (unknown IDs skipped)", res.TotalMatched)
	}
	// Specific mode classifies without the opt-in gate.
	if res.EligibleCount != 2 {
		t.Errorf("EligibleCount = %d, want 2", res.EligibleCount)
	}
	if res.TotalAllUsers != 100 {
		t.Errorf("TotalAllUsers = %d, want 100", res.TotalAllUsers)
	}
}

type staticSegments map[string]*FilterSpec

func (s staticSegments) GetSegmentSpec(ctx context.Context, id string) (*FilterSpec, error) {
	spec, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("segment %s not found", id)
	}
	return spec, nil
}

func TestResolveSegmentMode(t *testing.T) {
	segments := staticSegments{
		"shops": {OrgTypes: []string{"Shop"}, OptInOnly: true, ValidWhatsAppOnly: true},
	}
	rv := NewResolver(seededCorpus(), segments)

	res, err := rv.Resolve(context.Background(), Request{Mode: ModeSegment, SegmentID: "shops"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.EligibleCount != 60 {
		t.Errorf("EligibleCount = %d, want 60", res.EligibleCount)
	}

	_, err = rv.Resolve(context.Background(), Request{Mode: ModeSegment, SegmentID: "nope"})
	if !faults.IsResolution(err) {
		t.Errorf("missing segment should be a ResolutionError, got %v", err)
	}
}

func TestResolveDirectoryFailure(t *testing.T) {
	dir := &memDirectory{err: errors.New("connection refused")}
	rv := NewResolver(dir, nil)

	_, err := rv.Resolve(context.Background(), Request{Mode: ModeFilter, Spec: &FilterSpec{}})
	if err == nil {
		t.Fatal("expected error when directory is unreachable")
	}
	if !faults.IsResolution(err) {
		t.Errorf("expected ResolutionError, got %T: %v", err, err)
	}
}

func TestResolveInvalidSpecSurfacesValidation(t *testing.T) {
	rv := NewResolver(seededCorpus(), nil)

	_, err := rv.Resolve(context.Background(), Request{
		Mode: ModeFilter,
		Spec: &FilterSpec{CurrentPoints: &Range{Min: i64(9), Max: i64(1)}},
	})
	if !faults.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestResolveRequestShapeErrors(t *testing.T) {
	rv := NewResolver(seededCorpus(), nil)
	ctx := context.Background()

	cases := []Request{
		{Mode: ModeFilter},
		{Mode: ModeSegment},
		{Mode: ModeSpecific},
		{Mode: "bogus"},
	}
	for _, req := range cases {
		if _, err := rv.Resolve(ctx, req); !faults.IsValidation(err) {
			t.Errorf("request %+v: expected ValidationError, got %v", req, err)
		}
	}
}
