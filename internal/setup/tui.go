// Package setup implements the interactive configuration wizard.
package setup

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/vadiminshakov/valutatrade/config"
	"github.com/vadiminshakov/valutatrade/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const title = "VALUTATRADE CONFIG WIZARD"

// Answers raw values collected by the wizard.
type Answers struct {
	BaseCurrency    string
	DataDir         string
	Sources         []string
	APIKey          string
	RatesTTL        string
	RefreshInterval string
	RedisAddr       string
}

// DefaultAnswers prefills the wizard from the default config.
func DefaultAnswers() Answers {
	def := config.Default()
	names := make([]string, 0, len(def.Sources))
	for _, s := range def.Sources {
		names = append(names, s.String())
	}
	return Answers{
		BaseCurrency:    def.BaseCurrency,
		DataDir:         def.DataDir,
		Sources:         names,
		RatesTTL:        def.RatesTTL.String(),
		RefreshInterval: def.RefreshInterval.String(),
	}
}

// Config converts answers into a validated config.
func (a Answers) Config() (config.Config, error) {
	cfg := config.Default()
	cfg.BaseCurrency = a.BaseCurrency
	cfg.DataDir = strings.TrimSpace(a.DataDir)
	cfg.ExchangeRate.APIKey = strings.TrimSpace(a.APIKey)
	cfg.Redis.Addr = strings.TrimSpace(a.RedisAddr)

	if len(a.Sources) == 0 {
		return config.Config{}, fmt.Errorf("select at least one rate source")
	}
	cfg.Sources = nil
	for _, name := range a.Sources {
		src, err := domain.ParseSource(name)
		if err != nil || src == domain.SourceAll {
			return config.Config{}, fmt.Errorf("unknown rate source %q", name)
		}
		cfg.Sources = append(cfg.Sources, src)
	}

	var err error
	if cfg.RatesTTL, err = time.ParseDuration(a.RatesTTL); err != nil {
		return config.Config{}, fmt.Errorf("invalid rates TTL: %w", err)
	}
	if cfg.RefreshInterval, err = time.ParseDuration(a.RefreshInterval); err != nil {
		return config.Config{}, fmt.Errorf("invalid refresh interval: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	if path == "" {
		path = config.DefaultPath
	}
	answers := DefaultAnswers()
	var confirm bool

	// step 1: welcome
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render(title))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's set up your wallet simulator.\n"))

	fmt.Println(stepStyle.Render("STEP 1: CURRENCY AND STORAGE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Base currency").
				Description("Rates are cached against it and trades settle in it (e.g. USD)").
				Value(&answers.BaseCurrency).
				Validate(validateSymbol),
			huh.NewInput().
				Title("Data directory").
				Description("Rate cache, history and portfolios are stored here").
				Value(&answers.DataDir).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("data directory cannot be empty")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
	fmt.Println(stepStyle.Render("STEP 2: RATE SOURCES"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Rate sources").
				Description("Listed order is the merge order, later sources win").
				Options(
					huh.NewOption(domain.SourceCoinGecko.DisplayName()+" (crypto)", domain.SourceCoinGecko.String()),
					huh.NewOption(domain.SourceExchangeRate.DisplayName()+" (fiat)", domain.SourceExchangeRate.String()),
				).
				Value(&answers.Sources).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return fmt.Errorf("select at least one source")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	if contains(answers.Sources, domain.SourceExchangeRate.String()) {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("ExchangeRate-API key").
					Description("Leave empty to read " + config.EnvExchangeRateAPIKey + " at runtime").
					Value(&answers.APIKey).
					EchoMode(huh.EchoModePassword),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
	fmt.Println(stepStyle.Render("STEP 3: TIMING"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Rates TTL").
				Description("Rates older than this are stale (e.g. 5m, 0 disables)").
				Value(&answers.RatesTTL).
				Validate(validateDuration),
			huh.NewInput().
				Title("Refresh interval").
				Description("How often 'serve' refreshes rates (e.g. 1m, 5m)").
				Value(&answers.RefreshInterval).
				Validate(validateDuration),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
	fmt.Println(stepStyle.Render("STEP 4: REDIS MIRROR"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Redis address").
				Description("Optional host:port, committed rates are mirrored there").
				Value(&answers.RedisAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	cfg, err := answers.Config()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	// show summary
	summary := fmt.Sprintf(
		"Base: %s\nData dir: %s\nSources: %s\nRates TTL: %s\nRefresh: %s\nRedis: %s\n",
		cfg.BaseCurrency, cfg.DataDir, strings.Join(answers.Sources, ", "),
		cfg.RatesTTL, cfg.RefreshInterval, orNone(cfg.Redis.Addr),
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := config.Write(path, cfg); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	return nil
}

func validateSymbol(s string) error {
	_, err := domain.NormalizeSymbol(s)
	return err
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("must be a duration like 30s or 5m")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
