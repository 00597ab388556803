// Package wizard provides an interactive setup wizard for moshrelay,
// collecting the peer address, key material, and MTU and writing them
// out as a config.Config.
package wizard

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/postalsys/moshrelay/internal/config"
	"github.com/postalsys/moshrelay/internal/crypto"
)

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("205")).
	Padding(0, 1)

var subtitleStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("243"))

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	existingCfg *config.Config
}

// New creates a new setup wizard, optionally seeded with an existing
// config whose values become the form's defaults.
func New(existing *config.Config) *Wizard {
	return &Wizard{existingCfg: existing}
}

// Run executes the interactive setup form and returns the resulting
// config and the path the caller should save it to.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	cfg := config.Default()
	if w.existingCfg != nil {
		cfg = w.existingCfg
	}

	configPath := "./moshrelay.yaml"
	generateKey := cfg.Session.Key == ""
	var mtuStr string
	if cfg.Session.MTU > 0 {
		mtuStr = fmt.Sprintf("%d", cfg.Session.MTU)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Config file path").
				Value(&configPath),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("Local UDP bind address, host:port").
				Value(&cfg.Listen.Address),
			huh.NewInput().
				Title("Peer address").
				Description("Remote UDP address this session talks to").
				Value(&cfg.Peer.Address),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Generate a new pre-shared key?").
				Value(&generateKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Pre-shared key").
				Description("16 raw bytes or 22-char URL-safe base64").
				Value(&cfg.Session.Key).
				ValidateFunc(func(s string) error {
					if generateKey {
						return nil
					}
					_, err := crypto.ParseKey(s)
					return err
				}),
		).WithHideFunc(func() bool { return generateKey }),
		huh.NewGroup(
			huh.NewInput().
				Title("MTU").
				Description("Network MTU in bytes; blank selects the default (500)").
				Value(&mtuStr).
				ValidateFunc(validateMTU),
		),
	).WithTheme(huh.ThemeCharm())

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("wizard: %w", err)
	}

	if generateKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("wizard: generate key: %w", err)
		}
		encoded, err := crypto.EncodeKey(key)
		if err != nil {
			return nil, fmt.Errorf("wizard: encode key: %w", err)
		}
		cfg.Session.Key = encoded
		crypto.ZeroBytes(key)
	}

	if mtuStr != "" {
		var mtu int
		if _, err := fmt.Sscanf(mtuStr, "%d", &mtu); err != nil {
			return nil, fmt.Errorf("wizard: invalid mtu: %w", err)
		}
		cfg.Session.MTU = mtu
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("wizard: %w", err)
	}

	return &Result{Config: cfg, ConfigPath: configPath}, nil
}

func validateMTU(s string) error {
	if s == "" {
		return nil
	}
	var mtu int
	if _, err := fmt.Sscanf(s, "%d", &mtu); err != nil {
		return fmt.Errorf("mtu must be a number")
	}
	if mtu < 0 {
		return fmt.Errorf("mtu must not be negative")
	}
	return nil
}

func (w *Wizard) printBanner() {
	fmt.Println(bannerStyle.Render("moshrelay setup"))
	fmt.Println(subtitleStyle.Render("State-synchronization carrier over UDP"))
	fmt.Println()
}
