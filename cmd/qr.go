package main

import (
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"
)

// printQR renders payload as a terminal QR code with a plain-text fallback.
func printQR(w io.Writer, payload string) {
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "QR code unavailable: %v\n", err)
		fmt.Fprintf(w, "Connect URL: %s\n", payload)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "            SCAN TO CONNECT")
	fmt.Fprintln(w, "===========================================")
	// Half-block characters keep the code compact.
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintf(w, "  %s\n", payload)
	fmt.Fprintln(w, "===========================================")
}
