// Package readio provides FASTA/FASTQ ingestion of PRG and read sequences
// and BAM ingestion of reads already aligned to a reference, the ambient
// plumbing every CLI subcommand needs before minimizer extraction.
package readio

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"

	"github.com/Danderson123/pandora/perrors"
)

// Record is one named nucleotide sequence: a PRG locus or a sequencing
// read, keyed by its FASTA/FASTQ header id.
type Record struct {
	ID  string
	Seq []byte
}

// ReadFasta loads every record of a FASTA file into memory using a
// biogo fasta.Reader streaming-read loop.
func ReadFasta(filename string) ([]Record, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, &perrors.IOError{Path: filename, Cause: err}
	}
	defer fp.Close()

	fr := fasta.NewReader(fp, linear.NewSeq("", nil, alphabet.DNA))
	var out []Record
	for {
		s, err := fr.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, &perrors.IOError{Path: filename, Cause: err}
		}
		l := s.(*linear.Seq)
		seqBytes := make([]byte, len(l.Seq))
		for i, b := range l.Seq {
			seqBytes[i] = byte(b)
		}
		out = append(out, Record{ID: l.Name(), Seq: seqBytes})
	}
	return out, nil
}

// ReadFastq loads every record of a FASTQ file into memory with a
// hand-rolled four-lines-per-record block reader: there is no FASTQ reader
// among this module's dependencies, so the format is read directly rather
// than adopting one for a four-line loop.
func ReadFastq(filename string) ([]Record, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, &perrors.IOError{Path: filename, Cause: err}
	}
	defer fp.Close()
	r := bufio.NewReader(fp)

	var out []Record
	lineNum := 0
	for {
		header, err := readLine(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &perrors.IOError{Path: filename, Cause: err}
		}
		lineNum++

		seqLine, err := readLine(r)
		if err != nil {
			return nil, &perrors.ParseError{Line: lineNum, Reason: "truncated fastq record: missing sequence line"}
		}
		if _, err := readLine(r); err != nil { // '+' separator line
			return nil, &perrors.ParseError{Line: lineNum, Reason: "truncated fastq record: missing '+' line"}
		}
		if _, err := readLine(r); err != nil { // quality line
			return nil, &perrors.ParseError{Line: lineNum, Reason: "truncated fastq record: missing quality line"}
		}
		lineNum += 3

		fields := strings.Fields(string(header))
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "@") {
			return nil, &perrors.ParseError{Line: lineNum, Reason: "fastq header missing '@' prefix"}
		}
		out = append(out, Record{ID: strings.TrimPrefix(fields[0], "@"), Seq: seqLine})
	}
	return out, nil
}

// readLine reads one line, trimming its trailing newline, and tolerates a
// final line with no terminating newline before EOF.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(line) == 0 && err == io.EOF {
		return nil, io.EOF
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// ReadBAM streams mapped records from a BAM file in blocking batches of
// consecutive same-reference records. numWorkers terminal nil batches are
// sent once the file is exhausted, so callers fanning this out to a worker
// pool get a clean shutdown signal per worker.
func ReadBAM(filename string, numWorkers int) (<-chan []sam.Record, <-chan error) {
	rc := make(chan []sam.Record)
	ec := make(chan error, 1)

	go func() {
		defer close(rc)
		fp, err := os.Open(filename)
		if err != nil {
			ec <- &perrors.IOError{Path: filename, Cause: err}
			return
		}
		defer fp.Close()

		br, err := bam.NewReader(fp, numWorkers/5+1)
		if err != nil {
			ec <- &perrors.IOError{Path: filename, Cause: err}
			return
		}
		defer br.Close()

		var batch []sam.Record
		for {
			rec, err := br.Read()
			if err != nil {
				break
			}
			if rec.Flags&sam.Unmapped != 0 {
				continue
			}
			if len(batch) > 0 && batch[0].RefID() != rec.RefID() {
				rc <- batch
				batch = nil
			}
			batch = append(batch, *rec)
		}
		if len(batch) > 0 {
			rc <- batch
		}
		for i := 0; i < numWorkers; i++ {
			rc <- nil
		}
	}()
	return rc, ec
}

// ReadBAMRecords drains ReadBAM into a single slice of Record, expanding
// each mapped record's packed bases back into plain nucleotide bytes so
// BAM-sourced reads can feed the same minimizer extraction as FASTA/FASTQ
// reads.
func ReadBAMRecords(filename string) ([]Record, error) {
	rc, ec := ReadBAM(filename, 1)
	var out []Record
	for batch := range rc {
		for _, r := range batch {
			out = append(out, Record{ID: r.Name, Seq: r.Seq.Expand()})
		}
	}
	select {
	case err := <-ec:
		return nil, err
	default:
		return out, nil
	}
}
