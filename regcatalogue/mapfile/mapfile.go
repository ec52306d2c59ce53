// Package mapfile parses the line-oriented text map-file format that
// describes a NumericAddressedBackend's register layout: one register per
// line, plus "@metadata value" lines for device-wide properties and
// "#"-prefixed comments.
package mapfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fieldbus/deviceaccess/regcatalogue"
	"github.com/fieldbus/deviceaccess/registerpath"
)

// Prefixes recognized on the last path component of a register line, in
// place of the C++ parser's MULTIPLEXED_SEQUENCE_PREFIX, SEQUENCE_PREFIX
// and MEM_MULTIPLEXED_PREFIX constants.
const (
	legacyAreaPrefix   = "AREA_MULTIPLEXED_SEQUENCE_"
	legacySequencePrefix = "SEQUENCE_"
	newStyleAreaPrefix = "MEM_MULTIPLEXED_"
	multiplexedRawName = "MULTIPLEXED_RAW"
)

// ParseError reports a malformed line with its 1-based line number, so a
// caller can point a user at the offending entry in the source file.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mapfile: line %d: %s", e.Line, e.Message)
}

// Metadata holds the device-wide "@name value" entries collected while
// parsing (firmware version, map-file format version, and similar).
type Metadata map[string]string

// parsedLine is one successfully parsed register field line, kept around
// (keyed by path) until the second classification pass decides whether it
// is a plain register or a channel consumed by a 2-D multiplexed group.
type parsedLine struct {
	path   registerpath.Path
	info   regcatalogue.RegisterInfo
	lineNo int
}

// Parse reads a complete map file from r and returns the populated
// catalogue and any collected metadata. Parse returns a *ParseError (or a
// list of them joined with errors.Join) on malformed input; it does not
// stop at the first error so a caller can report every problem in one
// pass.
func Parse(r io.Reader) (*regcatalogue.NumericAddressedRegisterCatalogue, Metadata, error) {
	cat := regcatalogue.NewNumericAddressedRegisterCatalogue()
	meta := make(Metadata)

	var errs []error
	var lines []parsedLine
	byPath := make(map[string]parsedLine)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "@") {
			name, value, ok := parseMetadataLine(line)
			if !ok {
				errs = append(errs, &ParseError{lineNo, "malformed metadata line: " + line})
				continue
			}
			meta[name] = value
			continue
		}

		info, err := parseRegisterLine(line)
		if err != nil {
			errs = append(errs, &ParseError{lineNo, err.Error()})
			continue
		}
		pl := parsedLine{path: info.Path, info: info, lineNo: lineNo}
		lines = append(lines, pl)
		byPath[pl.path.String()] = pl
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("mapfile: read error: %w", err))
	}

	consumed := make(map[string]bool)

	for _, pl := range lines {
		name := pl.path.Last()
		switch {
		case strings.HasPrefix(name, legacyAreaPrefix):
			consumed[pl.path.String()] = true
			base := strings.TrimPrefix(name, legacyAreaPrefix)
			module := pl.path.Parent()
			channels, channelPaths, err := collectLegacyChannels(module, base, byPath)
			if err != nil {
				errs = append(errs, fmt.Errorf("mapfile: %s: %w", pl.path, err))
				continue
			}
			for _, p := range channelPaths {
				consumed[p] = true
			}
			fused, aux, err := buildMultiplexedRegisters(module.Child(base), pl.info, channels)
			if err != nil {
				errs = append(errs, fmt.Errorf("mapfile: %s: %w", pl.path, err))
				continue
			}
			if err := cat.AddRegister(fused); err != nil {
				errs = append(errs, &ParseError{pl.lineNo, err.Error()})
			}
			if err := cat.AddRegister(aux); err != nil {
				errs = append(errs, &ParseError{pl.lineNo, err.Error()})
			}

		case strings.HasPrefix(name, newStyleAreaPrefix):
			consumed[pl.path.String()] = true
			base := strings.TrimPrefix(name, newStyleAreaPrefix)
			module := pl.path.Parent()
			channels, channelPaths, err := collectNewStyleChannels(pl.path, lines)
			if err != nil {
				errs = append(errs, fmt.Errorf("mapfile: %s: %w", pl.path, err))
				continue
			}
			for _, p := range channelPaths {
				consumed[p] = true
			}
			fused, aux, err := buildMultiplexedRegisters(module.Child(base), pl.info, channels)
			if err != nil {
				errs = append(errs, fmt.Errorf("mapfile: %s: %w", pl.path, err))
				continue
			}
			if err := cat.AddRegister(fused); err != nil {
				errs = append(errs, &ParseError{pl.lineNo, err.Error()})
			}
			if err := cat.AddRegister(aux); err != nil {
				errs = append(errs, &ParseError{pl.lineNo, err.Error()})
			}
		}
	}

	for _, pl := range lines {
		if consumed[pl.path.String()] {
			continue
		}
		name := pl.path.Last()
		if strings.HasPrefix(name, legacySequencePrefix) {
			// An orphan SEQUENCE_<base>_<n> line with no matching
			// AREA_MULTIPLEXED_SEQUENCE_<base> area register never becomes a
			// standalone register.
			continue
		}
		if err := cat.AddRegister(pl.info); err != nil {
			errs = append(errs, &ParseError{pl.lineNo, err.Error()})
		}
	}

	if len(errs) > 0 {
		return cat, meta, joinErrors(errs)
	}
	return cat, meta, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

func parseMetadataLine(line string) (name, value string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 1 {
		return "", "", false
	}
	name = strings.TrimPrefix(fields[0], "@")
	if name == "" {
		return "", "", false
	}
	value = strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	return name, value, true
}

// parseRegisterLine parses one register field line:
//
//	path nElements address sizeInBytes [bar [width [bitInterpretation [signedFlag [access]]]]]
func parseRegisterLine(line string) (regcatalogue.RegisterInfo, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return regcatalogue.RegisterInfo{}, fmt.Errorf("expected at least 4 fields (path nElements address sizeInBytes), got %d", len(fields))
	}

	path := registerpath.New(fields[0], registerpath.DefaultSeparator)

	nElements, err := strconv.Atoi(fields[1])
	if err != nil {
		return regcatalogue.RegisterInfo{}, fmt.Errorf("invalid nElements %q: %w", fields[1], err)
	}
	address, err := strconv.ParseUint(fields[2], 0, 64)
	if err != nil {
		return regcatalogue.RegisterInfo{}, fmt.Errorf("invalid address %q: %w", fields[2], err)
	}
	sizeInBytes, err := strconv.ParseUint(fields[3], 0, 64)
	if err != nil {
		return regcatalogue.RegisterInfo{}, fmt.Errorf("invalid sizeInBytes %q: %w", fields[3], err)
	}

	bar := 0
	width := 32
	nFractionalBits := 0
	signed := true
	dataType := regcatalogue.FixedPoint
	access := regcatalogue.ReadWrite
	var interruptID []int

	if len(fields) > 4 {
		bar, err = strconv.Atoi(fields[4])
		if err != nil {
			return regcatalogue.RegisterInfo{}, fmt.Errorf("invalid bar %q: %w", fields[4], err)
		}
	}
	if len(fields) > 5 {
		width, err = strconv.Atoi(fields[5])
		if err != nil {
			return regcatalogue.RegisterInfo{}, fmt.Errorf("invalid width %q: %w", fields[5], err)
		}
	}
	if len(fields) > 6 {
		dataType, nFractionalBits, err = parseBitInterpretation(fields[6], width)
		if err != nil {
			return regcatalogue.RegisterInfo{}, err
		}
	} else if width == 0 {
		dataType = regcatalogue.Void
	}
	if len(fields) > 7 {
		signedFlag, err := strconv.Atoi(fields[7])
		if err != nil {
			return regcatalogue.RegisterInfo{}, fmt.Errorf("invalid signed flag %q: %w", fields[7], err)
		}
		signed = signedFlag != 0
	}
	if len(fields) > 8 {
		access, interruptID, err = parseAccess(fields[8])
		if err != nil {
			return regcatalogue.RegisterInfo{}, err
		}
	}

	elementPitchBits := nextByteMultiple(width)
	if elementPitchBits == 0 {
		elementPitchBits = 8
	}

	info := regcatalogue.RegisterInfo{
		Path:             path,
		NElements:        nElements,
		NChannels:        1,
		Address:          address,
		SizeInBytes:      sizeInBytes,
		BAR:              bar,
		ElementPitchBits: elementPitchBits,
		Channels: []regcatalogue.ChannelInfo{{
			BitOffset:       0,
			DataType:        dataType,
			Width:           width,
			NFractionalBits: nFractionalBits,
			Signed:          signed,
		}},
		AccessMode:  access,
		InterruptID: interruptID,
	}
	return info, nil
}

// nextByteMultiple returns 32 for any width up to a full word (0 included)
// and rounds wider widths up to the next multiple of 8 — map files always
// pack sub-word registers into full 32-bit raw words.
func nextByteMultiple(width int) int {
	if width <= 0 {
		return 32
	}
	if width <= 32 {
		return 32
	}
	return ((width + 7) / 8) * 8
}

// parseBitInterpretation dispatches the bitInterpretation token: an
// integer (positive, negative, or zero) selects FIXED_POINT with that many
// fractional bits; the literal tokens IEEE754 and ASCII select those
// types; width == 0 always forces VOID regardless of the token.
func parseBitInterpretation(token string, width int) (regcatalogue.DataType, int, error) {
	if width == 0 {
		return regcatalogue.Void, 0, nil
	}
	switch strings.ToUpper(token) {
	case "IEEE754":
		return regcatalogue.IEEE754, 0, nil
	case "ASCII":
		return regcatalogue.ASCII, 0, nil
	}
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid bitInterpretation %q: must be an integer fractional-bit count, IEEE754, or ASCII", token)
	}
	return regcatalogue.FixedPoint, n, nil
}

// parseAccess dispatches the access token: RO, RW, WO, or
// INTERRUPT<id0>[:id1[:id2...]].
func parseAccess(token string) (regcatalogue.Access, []int, error) {
	upper := strings.ToUpper(token)
	switch upper {
	case "RO":
		return regcatalogue.ReadOnly, nil, nil
	case "RW":
		return regcatalogue.ReadWrite, nil, nil
	case "WO":
		return regcatalogue.WriteOnly, nil, nil
	}
	if !strings.HasPrefix(upper, "INTERRUPT") {
		return 0, nil, fmt.Errorf("invalid access token %q", token)
	}
	rest := strings.TrimPrefix(upper, "INTERRUPT")
	if rest == "" {
		return 0, nil, fmt.Errorf("INTERRUPT access requires a non-empty interruptId chain")
	}
	parts := strings.Split(rest, ":")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid interrupt id %q in %q: %w", p, token, err)
		}
		ids = append(ids, id)
	}
	return regcatalogue.Interrupt, ids, nil
}

// collectLegacyChannels looks up SEQUENCE_<base>_0, SEQUENCE_<base>_1, ...
// as siblings of the area register in module, stopping at the first
// missing index — the same lookup-by-ascending-index loop as the
// reference parser's handle2D, so out-of-order sibling lines in the map
// file never produce a channel list in the wrong order.
func collectLegacyChannels(module registerpath.Path, base string, byPath map[string]parsedLine) ([]parsedLine, []string, error) {
	var channels []parsedLine
	var paths []string
	for idx := 0; ; idx++ {
		key := module.Child(fmt.Sprintf("%s%s_%d", legacySequencePrefix, base, idx)).String()
		pl, ok := byPath[key]
		if !ok {
			break
		}
		channels = append(channels, pl)
		paths = append(paths, key)
	}
	if len(channels) == 0 {
		return nil, nil, fmt.Errorf("no sequence channels found")
	}
	return channels, paths, nil
}

// collectNewStyleChannels collects every other parsed line whose path is a
// strict descendant of areaPath, sorted ascending by address — mirroring
// handle2DNewStyle's map-prefix scan, rather than a name-index lookup.
func collectNewStyleChannels(areaPath registerpath.Path, lines []parsedLine) ([]parsedLine, []string, error) {
	var channels []parsedLine
	for _, pl := range lines {
		if pl.path.Equal(areaPath) {
			continue
		}
		if !pl.path.StartsWith(areaPath) {
			continue
		}
		channels = append(channels, pl)
	}
	if len(channels) == 0 {
		return nil, nil, fmt.Errorf("no sequence channels found")
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].info.Address < channels[j].info.Address })
	paths := make([]string, len(channels))
	for i, c := range channels {
		paths[i] = c.path.String()
	}
	return channels, paths, nil
}

// buildMultiplexedRegisters fuses an area register and its ordered channel
// lines into a 2-D RegisterInfo at resultPath, plus the auxiliary
// "<resultPath>/MULTIPLEXED_RAW" 1-D register that reads the same bytes
// without channel decoding — mirroring make2DRegisterInfos, which every
// multiplexed style (legacy and new) funnels through.
func buildMultiplexedRegisters(resultPath registerpath.Path, area regcatalogue.RegisterInfo, channelLines []parsedLine) (regcatalogue.RegisterInfo, regcatalogue.RegisterInfo, error) {
	channels := make([]regcatalogue.ChannelInfo, len(channelLines))
	var bytesPerBlock uint64
	for i, chLine := range channelLines {
		if chLine.info.Address < area.Address {
			return regcatalogue.RegisterInfo{}, regcatalogue.RegisterInfo{}, fmt.Errorf("start address of channel %s smaller than 2-D register start address", chLine.path)
		}
		nBytes := chLine.info.SizeInBytes
		if nBytes != 1 && nBytes != 2 && nBytes != 4 {
			return regcatalogue.RegisterInfo{}, regcatalogue.RegisterInfo{}, fmt.Errorf("sequence word size must be 1, 2 or 4 bytes, got %d for %s", nBytes, chLine.path)
		}
		c := chLine.info.Channels[0]
		c.BitOffset = int((chLine.info.Address - area.Address) * 8)
		c.WordBytes = int(nBytes)
		channels[i] = c
		bytesPerBlock += nBytes
	}

	// Clamp every channel's bit-interpretation width to the actual gap to
	// the next channel (or, for the last channel, to the end of the
	// block), so an overstated width field never overlaps a neighbor.
	for i := 0; i < len(channels)-1; i++ {
		actualWidth := channels[i+1].BitOffset - channels[i].BitOffset
		if channels[i].Width > actualWidth {
			channels[i].Width = actualWidth
		}
	}
	last := len(channels) - 1
	actualWidth := int(bytesPerBlock*8) - channels[last].BitOffset
	if channels[last].Width > actualWidth {
		channels[last].Width = actualWidth
	}

	elementPitchBits := int(bytesPerBlock * 8)
	var nBlocks int
	if bytesPerBlock > 0 {
		nBlocks = int(area.SizeInBytes / bytesPerBlock)
	}

	fused := regcatalogue.RegisterInfo{
		Path:             resultPath,
		NElements:        nBlocks,
		NChannels:        len(channels),
		Address:          area.Address,
		SizeInBytes:      uint64(nBlocks) * bytesPerBlock,
		BAR:              area.BAR,
		ElementPitchBits: elementPitchBits,
		Channels:         channels,
		AccessMode:       area.AccessMode,
		InterruptID:      area.InterruptID,
	}

	if area.SizeInBytes%4 != 0 {
		return regcatalogue.RegisterInfo{}, regcatalogue.RegisterInfo{}, fmt.Errorf("multiplexed register %s size %d is not a multiple of 4", resultPath, area.SizeInBytes)
	}
	aux := regcatalogue.RegisterInfo{
		Path:             resultPath.Child(multiplexedRawName),
		NElements:        int(area.SizeInBytes / 4),
		NChannels:        1,
		Address:          area.Address,
		SizeInBytes:      area.SizeInBytes,
		BAR:              area.BAR,
		ElementPitchBits: 32,
		Channels: []regcatalogue.ChannelInfo{{
			Width:    32,
			DataType: regcatalogue.FixedPoint,
			Signed:   true,
		}},
		AccessMode:  area.AccessMode,
		InterruptID: area.InterruptID,
	}

	return fused, aux, nil
}
