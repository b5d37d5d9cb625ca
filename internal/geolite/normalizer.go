package geolite

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"geoipd/internal/database"
	"geoipd/internal/domain"
)

const (
	locationMemberMarker = "-locations-"
	blockMemberMarker    = "-blocks-ipv4."

	englishLanguage = "en"

	rowsPerNotification = 10000
)

// Options tune Normalize. Zero values select defaults.
type Options struct {
	Parallelism int
	Observer    Observer
}

// Dataset is everything extracted from one archive.
type Dataset struct {
	Blocks    []domain.Block
	Locations []domain.Location
	Names     LanguageTable
	Members   []MemberStats
}

type MemberStats struct {
	Name     string
	Kind     Kind
	Language string
	Rows     int
}

// GeoData converts the dataset into the rows the store persists.
func (d *Dataset) GeoData() database.GeoData {
	return database.GeoData{
		Blocks:    d.Blocks,
		Locations: d.Locations,
		Names:     d.Names.Records(),
	}
}

type archiveMember struct {
	file     *zip.File
	kind     Kind
	language string
}

type memberResult struct {
	blocks    []domain.Block
	locations []domain.Location
	names     LanguageTable
	rows      int
}

// Normalize reads the archive at path. When the archive has no IPv4 block
// member, no English locations member, or one of those members has no rows,
// the partially filled dataset is returned together with an error wrapping
// ErrMissingRequiredMember so the caller can decide.
func Normalize(ctx context.Context, path string, opts Options) (*Dataset, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, unreadableArchive(path, err)
	}
	defer reader.Close()

	return NormalizeArchive(ctx, &reader.Reader, opts)
}

// NormalizeArchive is Normalize over an already opened archive.
func NormalizeArchive(ctx context.Context, archive *zip.Reader, opts Options) (*Dataset, error) {
	observer := observerOrNop(opts.Observer)
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	members, err := classifyMembers(archive.File)
	if err != nil {
		return nil, err
	}

	results := make([]memberResult, len(members))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(parallelism)

	for i, member := range members {
		group.Go(func() error {
			result, err := parseMember(groupCtx, member, observer)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dataset := &Dataset{Names: make(LanguageTable)}
	var (
		hasBlocks, hasEnglish  bool
		blockRows, englishRows int
	)
	for i, member := range members {
		result := results[i]
		dataset.Blocks = append(dataset.Blocks, result.blocks...)
		dataset.Locations = append(dataset.Locations, result.locations...)
		dataset.Names.Merge(result.names)
		dataset.Members = append(dataset.Members, MemberStats{
			Name:     member.file.Name,
			Kind:     member.kind,
			Language: member.language,
			Rows:     result.rows,
		})
		switch {
		case member.kind == KindBlock:
			hasBlocks = true
			blockRows += result.rows
		case isEnglish(member.language):
			hasEnglish = true
			englishRows += result.rows
		}
	}

	switch {
	case !hasBlocks:
		return dataset, fmt.Errorf("%w: no member matching %q", ErrMissingRequiredMember, "*-Blocks-IPv4.*")
	case blockRows == 0:
		return dataset, fmt.Errorf("%w: %s", ErrEmptyMember, "*-Blocks-IPv4.*")
	case !hasEnglish:
		return dataset, fmt.Errorf("%w: no member matching %q", ErrMissingRequiredMember, "*-Locations-en.*")
	case englishRows == 0:
		return dataset, fmt.Errorf("%w: %s", ErrEmptyMember, "*-Locations-en.*")
	}

	return dataset, nil
}

func classifyMembers(files []*zip.File) ([]archiveMember, error) {
	var (
		members     []archiveMember
		blockMember string
	)

	for _, file := range files {
		if file.FileInfo().IsDir() {
			continue
		}

		name := strings.ToLower(file.Name)
		switch {
		case strings.Contains(name, locationMemberMarker):
			language, ok := LanguageFromMember(file.Name)
			if !ok {
				log.Warn("Skipping locations member without language", "member", file.Name)
				continue
			}
			members = append(members, archiveMember{file: file, kind: KindLocation, language: language})
		case strings.Contains(name, blockMemberMarker):
			if blockMember != "" {
				return nil, fmt.Errorf("%w: %s and %s", ErrDuplicateMember, blockMember, file.Name)
			}
			blockMember = file.Name
			members = append(members, archiveMember{file: file, kind: KindBlock})
		default:
			log.Debug("Ignoring archive member", "member", file.Name)
		}
	}

	return members, nil
}

func parseMember(ctx context.Context, member archiveMember, observer Observer) (memberResult, error) {
	name := member.file.Name
	result := memberResult{names: make(LanguageTable)}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	stream, err := member.file.Open()
	if err != nil {
		return result, unreadableArchive(name, err)
	}
	defer stream.Close()

	observer.MemberStarted(name, member.kind, int64(member.file.UncompressedSize64))
	log.Debug("Reading archive member", "member", name, "kind", member.kind, "language", member.language)

	counter := &countingReader{reader: stream}
	reader := csv.NewReader(counter)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			log.Warn("Archive member is empty", "member", name)
			observer.MemberDone(name, 0)
			return result, nil
		}
		return result, memberReadError(name, 1, err)
	}

	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, memberReadError(name, line+1, err)
		}
		line, _ = reader.FieldPos(0)

		switch member.kind {
		case KindLocation:
			err = result.addLocation(member.language, row)
		case KindBlock:
			err = result.addBlock(row)
		}
		if err != nil {
			return result, fmt.Errorf("%s line %d: %w", name, line, err)
		}

		result.rows++
		if result.rows%rowsPerNotification == 0 {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			observer.RowsRead(name, result.rows, counter.read)
		}
	}

	observer.RowsRead(name, result.rows, counter.read)
	observer.MemberDone(name, result.rows)
	log.Debug("Finished archive member", "member", name, "rows", result.rows)
	return result, nil
}

func (r *memberResult) addLocation(language string, row []string) error {
	record, err := LocationProjection.Project(row)
	if err != nil {
		return err
	}
	if isEnglish(language) {
		location, err := record.ToLocation()
		if err != nil {
			return err
		}
		r.locations = append(r.locations, location)
	}
	r.names.addLocationRow(language, row)
	return nil
}

func isEnglish(language string) bool {
	return strings.EqualFold(language, englishLanguage)
}

func (r *memberResult) addBlock(row []string) error {
	if len(row) == 0 {
		return fmt.Errorf("%w: block row has no network column", ErrColumnIndexOutOfRange)
	}

	span, err := ParseCIDRRange(row[0])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCIDR, err)
	}

	augmented := make([]string, 0, len(row)+2)
	augmented = append(augmented, strconv.FormatUint(uint64(span.Start), 10), strconv.FormatUint(uint64(span.End), 10))
	augmented = append(augmented, row...)

	record, err := BlockProjection.Project(augmented)
	if err != nil {
		return err
	}
	block, err := record.ToBlock()
	if err != nil {
		return err
	}
	r.blocks = append(r.blocks, block)
	return nil
}

func memberReadError(member string, line int, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("%w: %s line %d: %w", ErrMalformedValue, member, parseErr.Line, err)
	}
	return unreadableArchive(fmt.Sprintf("%s line %d", member, line), err)
}

type countingReader struct {
	reader io.Reader
	read   int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.read += int64(n)
	return n, err
}
