package placement

import (
	"fmt"
	"net/url"

	"github.com/cucumber/godog"
)

// TestContext interface defines methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	PUT(path string, body any) error
	POSTWithoutAuth(path string, body any) error
	GET(path string) error
	StatusCode() int
	GetResponseField(field string) (any, error)
	OwnerID(alias string) string
	Username(alias string) string
}

// RegisterSteps registers placement and genealogy step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &placementSteps{tc: tc, positions: map[string]string{}}
	ctx.Step(`^member "([^"]*)" is registered$`, steps.registerMember)
	ctx.Step(`^"([^"]*)" is placed in tier "([^"]*)" without a referral$`, steps.placeWithoutReferral)
	ctx.Step(`^"([^"]*)" is placed in tier "([^"]*)" referred by "([^"]*)"$`, steps.placeReferredBy)
	ctx.Step(`^"([^"]*)" registers through a link shared by "([^"]*)" in tier "([^"]*)"$`, steps.placeFromLink)
	ctx.Step(`^an unauthenticated client places "([^"]*)" in tier "([^"]*)"$`, steps.placeWithoutAuth)
	ctx.Step(`^"([^"]*)" should sit under "([^"]*)" in slot (\d+)$`, steps.shouldSitUnder)
	ctx.Step(`^the placement should be a spillover$`, steps.shouldBeSpillover)
	ctx.Step(`^I request the upline of "([^"]*)"$`, steps.requestUpline)
	ctx.Step(`^I request the stats of "([^"]*)"$`, steps.requestStats)
	ctx.Step(`^the upline should contain (\d+) positions?$`, steps.uplineShouldContain)
}

type placementSteps struct {
	tc TestContext
	// positions maps an owner alias to the position id the server assigned.
	positions map[string]string
}

func (s *placementSteps) registerMember(alias string) error {
	return s.tc.PUT("/matrix/members", map[string]any{
		"owner_id": s.tc.OwnerID(alias),
		"username": s.tc.Username(alias),
	})
}

func (s *placementSteps) placeWithoutReferral(alias, tier string) error {
	return s.place(alias, map[string]any{
		"owner_id": s.tc.OwnerID(alias),
		"tier_id":  tier,
	})
}

func (s *placementSteps) placeReferredBy(alias, tier, referrer string) error {
	return s.place(alias, map[string]any{
		"owner_id": s.tc.OwnerID(alias),
		"tier_id":  tier,
		"ref":      s.tc.Username(referrer),
	})
}

func (s *placementSteps) placeFromLink(alias, referrer, tier string) error {
	link := "https://example.com/register?ref=" + url.QueryEscape(s.tc.Username(referrer))
	return s.place(alias, map[string]any{
		"owner_id":         s.tc.OwnerID(alias),
		"tier_id":          tier,
		"registration_url": link,
	})
}

func (s *placementSteps) placeWithoutAuth(alias, tier string) error {
	return s.tc.POSTWithoutAuth("/matrix/placements", map[string]any{
		"owner_id": s.tc.OwnerID(alias),
		"tier_id":  tier,
	})
}

func (s *placementSteps) place(alias string, body map[string]any) error {
	if err := s.tc.POST("/matrix/placements", body); err != nil {
		return err
	}
	if s.tc.StatusCode() != 201 {
		return nil
	}
	positionID, err := s.tc.GetResponseField("position.id")
	if err != nil {
		return err
	}
	s.positions[alias] = fmt.Sprint(positionID)
	return nil
}

func (s *placementSteps) positionOf(alias string) (string, error) {
	positionID, ok := s.positions[alias]
	if !ok {
		return "", fmt.Errorf("%q has not been placed in this scenario", alias)
	}
	return positionID, nil
}

func (s *placementSteps) shouldSitUnder(alias, parent string, slot int) error {
	positionID, err := s.positionOf(alias)
	if err != nil {
		return err
	}
	parentID, err := s.positionOf(parent)
	if err != nil {
		return err
	}
	if err := s.tc.GET("/matrix/positions/" + positionID); err != nil {
		return err
	}
	gotParent, err := s.tc.GetResponseField("parent_id")
	if err != nil {
		return err
	}
	if fmt.Sprint(gotParent) != parentID {
		return fmt.Errorf("expected %s under %s, got parent %v", alias, parent, gotParent)
	}
	gotSlot, err := s.tc.GetResponseField("slot_index")
	if err != nil {
		return err
	}
	if fmt.Sprint(gotSlot) != fmt.Sprint(slot) {
		return fmt.Errorf("expected slot %d, got %v", slot, gotSlot)
	}
	return nil
}

func (s *placementSteps) shouldBeSpillover() error {
	spillover, err := s.tc.GetResponseField("spillover")
	if err != nil {
		return err
	}
	if spillover != true {
		return fmt.Errorf("expected spillover placement, got %v", spillover)
	}
	return nil
}

func (s *placementSteps) requestUpline(alias string) error {
	positionID, err := s.positionOf(alias)
	if err != nil {
		return err
	}
	return s.tc.GET("/matrix/positions/" + positionID + "/upline")
}

func (s *placementSteps) requestStats(alias string) error {
	positionID, err := s.positionOf(alias)
	if err != nil {
		return err
	}
	return s.tc.GET("/matrix/positions/" + positionID + "/stats")
}

func (s *placementSteps) uplineShouldContain(n int) error {
	positions, err := s.tc.GetResponseField("positions")
	if err != nil {
		return err
	}
	list, ok := positions.([]any)
	if !ok {
		return fmt.Errorf("expected positions array, got %T", positions)
	}
	if len(list) != n {
		return fmt.Errorf("expected %d upline positions, got %d", n, len(list))
	}
	return nil
}
