// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// Anomaly records a non-fatal parse irregularity against the image: a
// directory whose fields don't add up but that shouldn't abort the whole
// parse (spec §7 — a module with a malformed optional directory is still a
// module, just a less fully described one).
func (img *Image) anomaly(msg string) {
	img.Anomalies = append(img.Anomalies, msg)
}

// HasAnomalies reports whether any directory parse recorded an anomaly.
func (img *Image) HasAnomalies() bool {
	return len(img.Anomalies) > 0
}
