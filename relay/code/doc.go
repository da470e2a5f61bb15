// Package code generates and validates the pairing codes handed out by the relay.
//
// A display code is six characters drawn from a 32-symbol alphabet that
// leaves out the visually confusable I, O, 0 and 1, so a code read off a
// headset display can be typed into a browser without ambiguity. A full code
// is a display code plus one suffix character from the same alphabet and
// identifies a single participant slot inside a session.
//
// Usage:
//
//	display, err := code.Generate(func(c string) bool { return live[c] })
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	prefix, suffix, ok := code.Split("K7M2QXA")
package code
