// expandd-overlay - Fullscreen indicator shown while the keyboard is locked.
//
// The daemon runs this as a child process so a wedged GUI loop can never
// stall the keyboard hook. It draws a dimmed screen with the unlock
// instructions and exits when the daemon kills it.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"os"

	"gioui.org/app"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/paint"
	"gioui.org/text"
	"gioui.org/unit"
	"gioui.org/widget/material"
)

func main() {
	unlockChord := flag.String("unlock", "Ctrl+Shift+U", "Unlock chord shown to the user")
	holdSeconds := flag.Int("hold", 3, "Escape hold duration shown to the user")
	flag.Parse()

	go func() {
		w := new(app.Window)
		w.Option(app.Title("expandd"))
		w.Option(app.Fullscreen.Option())
		w.Option(app.Decorated(false))

		if err := loop(w, *unlockChord, *holdSeconds); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}()
	app.Main()
}

func loop(w *app.Window, unlockChord string, holdSeconds int) error {
	th := material.NewTheme()

	white := color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	dim := color.NRGBA{R: 0xC0, G: 0xC0, B: 0xC0, A: 0xFF}
	scrim := color.NRGBA{R: 0x10, G: 0x10, B: 0x14, A: 0xF2}

	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			paint.Fill(gtx.Ops, scrim)

			layout.Center.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Axis: layout.Vertical, Alignment: layout.Middle}.Layout(gtx,
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						title := material.H2(th, "Keyboard locked")
						title.Color = white
						title.Alignment = text.Middle
						return title.Layout(gtx)
					}),
					layout.Rigid(layout.Spacer{Height: unit.Dp(24)}.Layout),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						hint := material.Body1(th, fmt.Sprintf(
							"Press %s to unlock, or hold Escape for %d seconds.",
							unlockChord, holdSeconds))
						hint.Color = dim
						hint.Alignment = text.Middle
						return hint.Layout(gtx)
					}),
				)
			})

			e.Frame(gtx.Ops)
		}
	}
}
