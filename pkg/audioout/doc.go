// ABOUTME: Typed accessor for Yoctopuce AudioOut functions
// ABOUTME: Volume, mute, volume range and signal level of an audio output
// Package audioout drives the audio outputs of Yoctopuce modules.
//
// Handles are obtained from a yapi.Registry and stay valid whether or not the
// device is online; values are fetched lazily and served from the registry
// cache while it is fresh.
//
// The getters keep the vendor convention of returning an INVALID value on
// failure. State, Load and the *Context setters return errors instead.
//
// Example:
//
//	out := audioout.FindAudioOut(reg, "YMINIAMP-12345.audioOut1")
//	if out.Volume() != audioout.VolumeInvalid {
//	    out.SetVolume(50)
//	}
//	for o := audioout.FirstAudioOut(reg); o != nil; o = o.NextAudioOut() {
//	    fmt.Println(o.FunctionIdentifier())
//	}
package audioout
