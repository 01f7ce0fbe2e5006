// Package espeak speaks through libespeak-ng. It is the offline fallback
// when piper is missing or fails.
package espeak

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

int
espeak_say(const char *text, const char *voice, int rate)
{
	if (!text || !voice)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }

	espeak_VOICE specs = { .languages = voice };
	espeak_SetVoiceByProperties(&specs);
	espeak_SetParameter(espeakRATE, rate, 0);

	espeak_Synth(text, 500, 0, 0, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

const DefaultRate = 160

// Voice is safe for concurrent use; the library is global so calls are
// serialized.
type Voice struct {
	mu   sync.Mutex
	lang string
	rate int
}

func New(lang string, rate int) *Voice {
	if lang == "" {
		lang = "en-gb"
	}
	if rate <= 0 {
		rate = DefaultRate
	}
	return &Voice{lang: lang, rate: rate}
}

// Speak blocks until playback ends. Synthesis cannot be interrupted once
// started, so ctx is only checked before.
func (v *Voice) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	cvoice := C.CString(v.lang)
	defer C.free(unsafe.Pointer(cvoice))

	rc := C.espeak_say(ctext, cvoice, C.int(v.rate))
	if rc != 0 {
		return fmt.Errorf("espeak: say failed: %d", int(rc))
	}

	return nil
}
