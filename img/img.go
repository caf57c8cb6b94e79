// Package img writes flat sector images (IMG/IMA) from a floppy drive.
package img

import (
	"fmt"
	"os"

	"github.com/sergev/drawbridge/fdd"
)

// DumpDisk reads every sector of the disk in drive and writes them to a
// flat sector image file: cylinders outermost, then heads, then sectors in
// ascending order, the layout IMG and IMA files use. The optional progress
// callback fires once per surface.
func DumpDisk(filename string, drive *fdd.Drive, progress func(track, head int)) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	tracks, heads, sectors := drive.Geometry()
	buffer := make([]byte, fdd.SectorSize)

	for cyl := 0; cyl < tracks; cyl++ {
		// Seek captures both surfaces in one motor spin-up.
		if err := drive.Seek(cyl); err != nil {
			return fmt.Errorf("track %d: %w", cyl, err)
		}
		for head := 0; head < heads; head++ {
			if progress != nil {
				progress(cyl, head)
			}
			for s := 1; s <= sectors; s++ {
				if err := drive.ReadSector(cyl, head, s, buffer); err != nil {
					return fmt.Errorf("sector %d/%d/%d: %w", cyl, head, s, err)
				}
				if _, err := file.Write(buffer); err != nil {
					return fmt.Errorf("failed to write sector %d/%d/%d: %w", cyl, head, s, err)
				}
			}
		}
	}
	return nil
}
