// Package gui provides a status window for a kitvm guest.
package gui

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	fyneterm "github.com/fyne-io/terminal"
	"github.com/javanstorm/kitvm/internal/vm"
)

// IPLabel prefixes the guest address in the window.
const IPLabel = "NAT IP address of the VM"

// StartFunc starts the VM. It is called at most once, from the Start button.
type StartFunc func() error

// ConsoleWriter forwards terminal input to the guest console. Input typed
// before the VM has a pipe-backed console is discarded.
type ConsoleWriter struct {
	Orch *vm.Orchestrator
}

func (w ConsoleWriter) Write(p []byte) (int, error) {
	in, err := w.Orch.ConsoleInput()
	if err != nil {
		return len(p), nil
	}
	return in.Write(p)
}

// Close is a no-op; the console is closed by the orchestrator.
func (ConsoleWriter) Close() error { return nil }

// window holds the widgets refreshed from Orchestrator.Status.
type window struct {
	orch   *vm.Orchestrator
	start  StartFunc
	status *widget.Label
	ip     *widget.Label
	button *widget.Button
}

// Run opens the window and blocks until it is closed. console carries the
// raw guest console output shown in the terminal widget; nil means the
// console is not collected. onClose is called when the user closes the
// window or the process gets SIGINT/SIGTERM.
func Run(ctx context.Context, orch *vm.Orchestrator, title string, start StartFunc, console io.ReadCloser, onClose func()) {
	a := app.New()
	w := a.NewWindow(title)
	w.Resize(fyne.NewSize(800, 600))

	win := &window{
		orch:   orch,
		start:  start,
		status: widget.NewLabel(""),
		ip:     widget.NewLabel(IPText("")),
	}
	win.button = widget.NewButton("Start", win.onStart)

	var body fyne.CanvasObject
	var term *fyneterm.Terminal
	if console != nil {
		term = fyneterm.New()
		body = term
	} else {
		body = widget.NewLabel("Console output is not collected in this console mode.")
	}

	top := container.NewVBox(win.status, win.ip)
	w.SetContent(container.NewBorder(top, win.button, nil, nil, body))

	quit := func() {
		if onClose != nil {
			onClose()
		}
		if console != nil {
			_ = console.Close()
		}
		a.Quit()
	}
	w.SetCloseIntercept(quit)

	// First signal closes the window, second forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fyne.Do(quit)
		<-sigCh
		os.Exit(1)
	}()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go win.watch(watchCtx)

	if term != nil {
		go func() {
			_ = term.RunWithConnection(ConsoleWriter{Orch: orch}, console)
		}()
	}

	win.refresh(orch.Status())

	w.Show()
	if term != nil {
		w.Canvas().Focus(term)
	}
	a.Run()
	signal.Stop(sigCh)
}

func (win *window) onStart() {
	win.button.Disable()
	if err := win.start(); err != nil {
		win.status.SetText(StatusText(win.orch.Status()))
	}
}

// watch refreshes the labels on every orchestrator update.
func (win *window) watch(ctx context.Context) {
	for {
		updated := win.orch.Updated()
		st := win.orch.Status()
		fyne.Do(func() { win.refresh(st) })
		select {
		case <-ctx.Done():
			return
		case <-updated:
		}
	}
}

func (win *window) refresh(st vm.Status) {
	win.status.SetText(StatusText(st))
	win.ip.SetText(IPText(st.IP))
	if st.State != vm.StateNotStarted {
		win.button.Disable()
	}
}

// IPText renders the address line; the address is blank until leased.
func IPText(ip string) string {
	return fmt.Sprintf("%s: %s", IPLabel, ip)
}

// StatusText renders the VM state line shown above the address.
func StatusText(st vm.Status) string {
	var s string
	switch st.State {
	case vm.StateFailed:
		s = "VM failed"
		if st.Err != nil {
			s = fmt.Sprintf("VM failed: %v", st.Err)
		}
	case vm.StateRunning:
		s = "VM running"
	case vm.StateStarting:
		s = "VM starting..."
	case vm.StateStopped:
		s = "VM stopped"
	default:
		s = "VM not started"
	}
	if st.Machine != "" && st.State != vm.StateNotStarted {
		s += fmt.Sprintf(" (hypervisor: %s)", st.Machine)
	}
	return s
}
