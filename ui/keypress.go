package ui

import (
	"sync"

	"github.com/eiannone/keyboard"
)

// KeyEsc is sent on the key channel for the Escape key.
const KeyEsc rune = 27

var (
	keyCh     chan rune
	startOnce sync.Once
)

// StartKeyEvents returns a channel that emits single-key runes read without Enter.
// The channel is shared; repeated calls return the same one.
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			// Keyboard not available; keep a buffered channel that will never emit.
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				switch {
				case key == 0:
					send(char)
				case key == keyboard.KeyEsc, key == keyboard.KeyCtrlC:
					send(KeyEsc)
				}
			}
		}()
	})
	return keyCh
}

func send(r rune) {
	select {
	case keyCh <- r:
	default:
	}
}

// DrainKeys consumes any immediately available keys to avoid accidental triggers.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
