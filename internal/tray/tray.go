// Package tray provides a system tray launcher for try-on sessions.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/tryon/internal/pose"
)

// Tray represents the system tray application.
type Tray struct {
	onTryOn func(category string)
	onClose func()
	onOpen  func()
	onQuit  func()
	status  string
	mu      sync.RWMutex

	// Menu items stored for later updates
	menuStatus *systray.MenuItem
	menuClose  *systray.MenuItem
}

// New creates a new Tray with an idle status.
func New() *Tray {
	return &Tray{
		status: "idle",
	}
}

// OnTryOn sets the callback invoked with a category ("rings" or
// "watches") when a try-on item is clicked.
func (t *Tray) OnTryOn(fn func(category string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTryOn = fn
}

// OnClose sets the callback for the close item.
func (t *Tray) OnClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = fn
}

// OnOpenBrowser sets the callback for the viewer item.
func (t *Tray) OnOpenBrowser(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops a running tray.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
func (t *Tray) onReady() {
	systray.SetTitle("Try-On")
	systray.SetTooltip("AR jewelry try-on")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(statusTitle(t.status), "Session state")
	t.menuStatus.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuRing := systray.AddMenuItem("Try on ring", "Open a ring try-on")
	menuWatch := systray.AddMenuItem("Try on watch", "Open a watch try-on")

	t.mu.Lock()
	t.menuClose = systray.AddMenuItem("Close try-on", "Close the current try-on")
	t.menuClose.Disable()
	menuClose := t.menuClose
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open viewer...", "Open the viewer in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit the try-on engine")

	go func() {
		for {
			select {
			case <-menuRing.ClickedCh:
				t.handleTryOn(pose.TargetRing.String())
			case <-menuWatch.ClickedCh:
				t.handleTryOn(pose.TargetWatch.String())
			case <-menuClose.ClickedCh:
				t.handleClose()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleTryOn runs the try-on callback for category.
func (t *Tray) handleTryOn(category string) {
	t.mu.RLock()
	callback := t.onTryOn
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(category)
	}
}

func (t *Tray) handleClose() {
	t.mu.RLock()
	callback := t.onClose
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetStatus updates the status line. The close item is enabled only while
// a session is starting or active.
func (t *Tray) SetStatus(state string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = state
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(statusTitle(state))
	}
	if t.menuClose != nil {
		if closable(state) {
			t.menuClose.Enable()
		} else {
			t.menuClose.Disable()
		}
	}
}

// Status returns the last state passed to SetStatus.
func (t *Tray) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func statusTitle(state string) string {
	if state == "" {
		state = "idle"
	}
	return "Session: " + state
}

func closable(state string) bool {
	return state == "starting" || state == "active"
}
