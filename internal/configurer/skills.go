package configurer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/util"
)

// skillCatalogTimeout caps the CLI catalog query; the wizard falls back to
// the bundled list rather than blocking the UI.
const skillCatalogTimeout = 1600 * time.Millisecond

// bundledSkillCatalog is shown when the gateway CLI cannot enumerate skills
// (not installed yet, or too slow).
var bundledSkillCatalog = []gateway.SkillCatalogItem{
	{Name: "healthcheck", Description: "Periodic gateway self-diagnostics.", Eligible: true, Bundled: true, Source: "bundled"},
	{Name: "skill-creator", Description: "Scaffold new skills from templates.", Eligible: true, Bundled: true, Source: "bundled"},
	{Name: "github", Description: "Repository and issue automation via the GitHub API.", Eligible: true, Bundled: true, Source: "bundled"},
	{Name: "weather", Description: "Weather lookups for agent conversations.", Eligible: true, Bundled: true, Source: "bundled"},
	{Name: "clawhub", Description: "Browse and install community skills.", Eligible: true, Bundled: true, Source: "bundled"},
}

// skillListEntry mirrors one item of `openclaw skills list --json`.
type skillListEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Eligible    bool     `json:"eligible"`
	Bundled     bool     `json:"bundled"`
	Source      string   `json:"source"`
	Missing     []string `json:"missing"`
}

type skillListPayload struct {
	Skills []skillListEntry `json:"skills"`
}

// applySelectedSkills records the chosen bundled skills in the gateway
// config and verifies the gateway actually reports them as usable.
func (c *Configurer) applySelectedSkills(ctx context.Context, live paths.Paths, cfg gateway.ConfigInput, warnings *[]string) {
	if cfg.SkipSkills || len(cfg.SelectedSkills) == 0 {
		return
	}

	selected := make([]string, 0, len(cfg.SelectedSkills))
	seen := map[string]bool{}
	for _, name := range cfg.SelectedSkills {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		selected = append(selected, trimmed)
	}
	if len(selected) == 0 {
		return
	}

	if err := c.writeSelectedSkills(live, selected); err != nil {
		*warnings = append(*warnings, fmt.Sprintf("Failed to record selected skills in the gateway config: %v", err))
		return
	}
	c.verifySelectedSkills(ctx, selected, warnings)
}

// writeSelectedSkills read-modify-writes the gateway config: the skills
// section is updated in place, everything else is preserved verbatim.
func (c *Configurer) writeSelectedSkills(live paths.Paths, selected []string) error {
	configPath := live.ConfigPath()
	root := map[string]interface{}{}
	if raw, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(raw, &root); err != nil {
			return fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	skills, _ := root["skills"].(map[string]interface{})
	if skills == nil {
		skills = map[string]interface{}{}
	}
	allow := make([]interface{}, 0, len(selected))
	for _, name := range selected {
		allow = append(allow, name)
	}
	skills["allowBundled"] = allow

	entries, _ := skills["entries"].(map[string]interface{})
	if entries == nil {
		entries = map[string]interface{}{}
	}
	for _, name := range selected {
		entry, _ := entries[name].(map[string]interface{})
		if entry == nil {
			entry = map[string]interface{}{}
		}
		entry["enabled"] = true
		entries[name] = entry
	}
	skills["entries"] = entries
	root["skills"] = skills

	return util.WriteJson(configPath, root)
}

func (c *Configurer) verifySelectedSkills(ctx context.Context, selected []string, warnings *[]string) {
	reported, err := c.querySkillList(ctx)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("Could not verify selected skills: %v", err))
		return
	}
	byName := make(map[string]skillListEntry, len(reported))
	for _, entry := range reported {
		byName[entry.Name] = entry
	}
	for _, name := range selected {
		entry, ok := byName[name]
		switch {
		case !ok:
			*warnings = append(*warnings, fmt.Sprintf("Selected skill %q is not known to the gateway.", name))
		case !entry.Eligible && len(entry.Missing) > 0:
			*warnings = append(*warnings, fmt.Sprintf("Skill %q is not usable yet, missing: %s.", name, strings.Join(entry.Missing, ", ")))
		case !entry.Eligible:
			*warnings = append(*warnings, fmt.Sprintf("Skill %q is not usable in the current environment.", name))
		}
	}
}

func (c *Configurer) querySkillList(ctx context.Context) ([]skillListEntry, error) {
	out, err := c.runCLI(ctx, []string{"skills", "list", "--json"}, nil)
	if err != nil {
		return nil, err
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("skills list failed: %s", strings.TrimSpace(out.Stderr))
	}

	var payload skillListPayload
	if err := parseJSONFromCLIOutput(out.Stdout, &payload); err == nil && len(payload.Skills) > 0 {
		return payload.Skills, nil
	}
	var entries []skillListEntry
	if err := parseJSONFromCLIOutput(out.Stdout, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListSkillCatalog enumerates installable skills for the wizard. The CLI
// answer wins when it arrives within the budget; otherwise the bundled
// catalog keeps the wizard responsive.
func (c *Configurer) ListSkillCatalog(ctx context.Context) []gateway.SkillCatalogItem {
	type result struct {
		entries []skillListEntry
		err     error
	}
	queryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan result, 1)
	go func() {
		entries, err := c.querySkillList(queryCtx)
		resultCh <- result{entries: entries, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			log.Debugf("skill catalog query failed, using bundled catalog: %v", res.err)
			return sortedCatalog(bundledSkillCatalog)
		}
		items := make([]gateway.SkillCatalogItem, 0, len(res.entries))
		for _, entry := range res.entries {
			source := entry.Source
			if source == "" && entry.Bundled {
				source = "bundled"
			}
			items = append(items, gateway.SkillCatalogItem{
				Name:        entry.Name,
				Description: entry.Description,
				Eligible:    entry.Eligible,
				Bundled:     entry.Bundled,
				Source:      source,
			})
		}
		if len(items) == 0 {
			return sortedCatalog(bundledSkillCatalog)
		}
		return sortedCatalog(items)
	case <-time.After(skillCatalogTimeout):
		log.Debug("skill catalog query timed out, using bundled catalog")
		return sortedCatalog(bundledSkillCatalog)
	}
}

// sortedCatalog orders eligible skills first, then by name.
func sortedCatalog(items []gateway.SkillCatalogItem) []gateway.SkillCatalogItem {
	out := make([]gateway.SkillCatalogItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Eligible != out[j].Eligible {
			return out[i].Eligible
		}
		return out[i].Name < out[j].Name
	})
	return out
}
