package runtime

import (
	"bufio"
	"fmt"
	"io"
	"math/bits"
	"strconv"

	"github.com/notargets/SpikeKernel/model"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RecordedEvent is one spike or spike-like event read from a recording buffer
type RecordedEvent struct {
	Time  float64
	ID    int
	Batch int
}

// PullRecordingBuffersFromDevice copies every recording buffer to the host
func (r *Runtime) PullRecordingBuffersFromDevice() error {
	if r.numRecordingTimesteps <= 0 {
		return errors.Wrap(ErrRecordingNotConfigured, "cannot pull recording buffers from device")
	}
	for _, ng := range r.m.NeuronGroups {
		for _, name := range recordingArrays(ng) {
			a, err := r.Array(ng.Name, name)
			if err != nil {
				return err
			}
			a.PullFromDevice()
		}
	}
	return nil
}

func recordingArrays(ng *model.NeuronGroup) []string {
	var names []string
	if ng.SpikeRecording {
		names = append(names, "recordSpk")
	}
	if ng.SpikeEventRecording {
		names = append(names, "recordSpkEvnt")
	}
	return names
}

// RecordedSpikes decodes the spike recording buffer of ng, batch by batch
func (r *Runtime) RecordedSpikes(ng *model.NeuronGroup) ([]RecordedEvent, error) {
	return r.recordedEvents(ng, "recordSpk")
}

// RecordedSpikeEvents decodes the spike-like event recording buffer of ng
func (r *Runtime) RecordedSpikeEvents(ng *model.NeuronGroup) ([]RecordedEvent, error) {
	return r.recordedEvents(ng, "recordSpkEvnt")
}

func (r *Runtime) recordingWords(ng *model.NeuronGroup, array string) ([]uint32, error) {
	if r.numRecordingTimesteps <= 0 {
		return nil, errors.Wrap(ErrRecordingNotConfigured, "cannot get recorded events")
	}
	if r.timestep < uint64(r.numRecordingTimesteps) {
		return nil, errors.Wrap(ErrRecordingNotConfigured, "event recording data can only be accessed once buffer is full")
	}
	a, err := r.Array(ng.Name, array)
	if err != nil {
		return nil, err
	}
	values, err := a.Values()
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(values))
	for i, v := range values {
		words[i] = uint32(v)
	}
	return words, nil
}

func (r *Runtime) recordedEvents(ng *model.NeuronGroup, array string) ([]RecordedEvent, error) {
	words, err := r.recordingWords(ng, array)
	if err != nil {
		return nil, err
	}
	dt := r.m.DT
	start := float64(r.timestep-uint64(r.numRecordingTimesteps)) * dt
	timestepWords := ceilDivide(ng.NumNeurons, 32)
	batches := make([][]RecordedEvent, r.m.BatchSize)

	k := 0
	for t := 0; t < r.numRecordingTimesteps; t++ {
		time := start + float64(t)*dt
		for b := range batches {
			for w := 0; w < timestepWords; w++ {
				word := words[k]
				k++
				// highest neuron of the word first
				for word != 0 {
					bit := 31 - bits.LeadingZeros32(word)
					word &^= 1 << uint(bit)
					batches[b] = append(batches[b], RecordedEvent{Time: time, ID: w*32 + bit, Batch: b})
				}
			}
		}
	}
	var events []RecordedEvent
	for _, be := range batches {
		events = append(events, be...)
	}
	return events, nil
}

// RecordedRaster is a timesteps x neurons matrix with ones where batch spiked
func (r *Runtime) RecordedRaster(ng *model.NeuronGroup, batch int) (*mat.Dense, error) {
	if batch < 0 || batch >= r.m.BatchSize {
		return nil, errors.Errorf("batch %d out of range for batch size %d", batch, r.m.BatchSize)
	}
	events, err := r.RecordedSpikes(ng)
	if err != nil {
		return nil, err
	}
	raster := mat.NewDense(r.numRecordingTimesteps, ng.NumNeurons, nil)
	start := float64(r.timestep-uint64(r.numRecordingTimesteps)) * r.m.DT
	for _, e := range events {
		if e.Batch != batch || e.ID >= ng.NumNeurons {
			continue
		}
		t := int((e.Time-start)/r.m.DT + 0.5)
		raster.Set(t, e.ID, 1)
	}
	return raster, nil
}

// WriteRecordedEvents writes events as comma separated text with a header,
// adding a batch column when batched is set
func WriteRecordedEvents(w io.Writer, events []RecordedEvent, batched bool) error {
	bw := bufio.NewWriter(w)
	header := "Time [ms], Neuron ID"
	if batched {
		header += ", Batch"
	}
	if _, err := fmt.Fprintln(bw, header); err != nil {
		return err
	}
	for _, e := range events {
		line := strconv.FormatFloat(e.Time, 'g', 6, 64) + ", " + strconv.Itoa(e.ID)
		if batched {
			line += ", " + strconv.Itoa(e.Batch)
		}
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteRecordedSpikes writes the recorded spikes of ng
func (r *Runtime) WriteRecordedSpikes(w io.Writer, ng *model.NeuronGroup) error {
	events, err := r.RecordedSpikes(ng)
	if err != nil {
		return err
	}
	return WriteRecordedEvents(w, events, r.m.BatchSize > 1)
}
