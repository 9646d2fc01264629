// Package indicator maps connection states to status LED patterns.
package indicator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/user/blelink/link"
	"github.com/user/blelink/logger"
)

// Color is an RGB value
type Color struct {
	R, G, B uint8
}

var (
	Black  = Color{0, 0, 0}
	Blue   = Color{0, 0, 255}
	Purple = Color{128, 0, 128}
	Yellow = Color{255, 255, 0}
	Green  = Color{0, 128, 0}
	Red    = Color{255, 0, 0}
)

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// scale dims c to brightness/255
func (c Color) scale(brightness uint8) Color {
	f := func(v uint8) uint8 { return uint8(uint16(v) * uint16(brightness) / 255) }
	return Color{f(c.R), f(c.G), f(c.B)}
}

// Mode is how a pattern animates
type Mode int

const (
	ModeOff Mode = iota
	ModeSolid
	ModeBlink
	ModePulse
	ModeAlternate
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeSolid:
		return "solid"
	case ModeBlink:
		return "blink"
	case ModePulse:
		return "pulse"
	case ModeAlternate:
		return "alternate"
	default:
		return "unknown"
	}
}

// Pulse breathes at 20 beats per minute between these brightness levels
const (
	pulsePeriod        = 3 * time.Second
	pulseMinBrightness = 30
	pulseMaxBrightness = 255
)

// Pattern is one LED animation
type Pattern struct {
	Name      string
	Mode      Mode
	Primary   Color
	Secondary Color
	On        time.Duration
	Off       time.Duration
}

func (p Pattern) String() string {
	switch p.Mode {
	case ModeBlink, ModeAlternate:
		return fmt.Sprintf("%s: %s %s/%s %d/%d ms", p.Name, p.Mode, p.Primary, p.Secondary, p.On.Milliseconds(), p.Off.Milliseconds())
	default:
		return fmt.Sprintf("%s: %s %s", p.Name, p.Mode, p.Primary)
	}
}

// ColorAt returns the LED color elapsed into the pattern
func (p Pattern) ColorAt(elapsed time.Duration) Color {
	switch p.Mode {
	case ModeSolid:
		return p.Primary
	case ModeBlink:
		if p.phaseOn(elapsed) {
			return p.Primary
		}
		return Black
	case ModeAlternate:
		if p.phaseOn(elapsed) {
			return p.Primary
		}
		return p.Secondary
	case ModePulse:
		phase := float64(elapsed%pulsePeriod) / float64(pulsePeriod)
		level := (math.Sin(2*math.Pi*phase) + 1) / 2
		brightness := pulseMinBrightness + level*(pulseMaxBrightness-pulseMinBrightness)
		return p.Primary.scale(uint8(brightness))
	default:
		return Black
	}
}

// phaseOn reports whether elapsed falls in the on half of a blink cycle.
// The cycle starts dark, matching a freshly set style.
func (p Pattern) phaseOn(elapsed time.Duration) bool {
	cycle := p.On + p.Off
	if cycle <= 0 {
		return true
	}
	return elapsed%cycle >= p.Off
}

var (
	PatternBoot         = Pattern{Name: "boot", Mode: ModePulse, Primary: Blue, Secondary: Black}
	PatternScanning     = Pattern{Name: "scanning", Mode: ModeBlink, Primary: Purple, Secondary: Black, On: 300 * time.Millisecond, Off: 300 * time.Millisecond}
	PatternAdvertising  = Pattern{Name: "advertising", Mode: ModeBlink, Primary: Purple, Secondary: Black, On: 500 * time.Millisecond, Off: 500 * time.Millisecond}
	PatternConnecting   = Pattern{Name: "connecting", Mode: ModePulse, Primary: Yellow, Secondary: Black}
	PatternConnected    = Pattern{Name: "connected", Mode: ModeSolid, Primary: Green, Secondary: Black}
	PatternDisconnected = Pattern{Name: "disconnected", Mode: ModeBlink, Primary: Red, Secondary: Black, On: 150 * time.Millisecond, Off: 150 * time.Millisecond}
	PatternError        = Pattern{Name: "error", Mode: ModeAlternate, Primary: Red, Secondary: Blue, On: 250 * time.Millisecond, Off: 250 * time.Millisecond}
)

// PatternFor picks the pattern for a role in a state. Discovering shows as
// scanning on the Initiator and advertising on the Responder.
func PatternFor(role link.Role, s link.State) Pattern {
	switch s {
	case link.StateDiscovering:
		if role == link.RoleResponder {
			return PatternAdvertising
		}
		return PatternScanning
	case link.StateConnecting:
		return PatternConnecting
	case link.StateConnected:
		return PatternConnected
	case link.StateDisconnected:
		return PatternDisconnected
	case link.StateError:
		return PatternError
	default:
		return PatternBoot
	}
}

// Display shows a pattern
type Display interface {
	Show(p Pattern)
}

// LogIndicator is a Display that logs each pattern change
type LogIndicator struct {
	prefix string

	mu      sync.Mutex
	current string
	changes int
}

func NewLogIndicator(prefix string) *LogIndicator {
	return &LogIndicator{prefix: prefix}
}

func (l *LogIndicator) Show(p Pattern) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Name == l.current {
		return
	}
	l.current = p.Name
	l.changes++
	logger.Info(l.prefix, "LED %s", p)
}

// Current returns the name of the pattern on display
func (l *LogIndicator) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Changes returns how many distinct patterns have been shown
func (l *LogIndicator) Changes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changes
}

// Follow returns a state listener that drives d for role
func Follow(role link.Role, d Display) func(prev, next link.State) {
	return func(_, next link.State) {
		d.Show(PatternFor(role, next))
	}
}
