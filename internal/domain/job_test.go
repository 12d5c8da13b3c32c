package domain

import "testing"

func TestValidTransition(t *testing.T) {
	allowed := [][2]string{
		{StageQueued, StageExtractingAudio},
		{StageExtractingAudio, StageTranscribing},
		{StageTranscribing, StageBurning},
		{StageBurning, StageCompleted},
		{StageQueued, StageFailed},
		{StageBurning, StageFailed},
	}
	for _, pair := range allowed {
		if !ValidTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	denied := [][2]string{
		{StageQueued, StageTranscribing},
		{StageTranscribing, StageExtractingAudio},
		{StageCompleted, StageFailed},
		{StageFailed, StageExtractingAudio},
		{StageCompleted, StageExtractingAudio},
	}
	for _, pair := range denied {
		if ValidTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be denied", pair[0], pair[1])
		}
	}
}

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		StoredName: "1700000000000-movie.mp4",
		SourcePath: "/data/uploads/1700000000000-movie.mp4",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	if err := (CreateJobRequest{SourcePath: "/tmp/x"}).Validate(); err == nil {
		t.Fatal("expected validation error for missing stored_name")
	}
	if err := (CreateJobRequest{StoredName: "a.mp4"}).Validate(); err == nil {
		t.Fatal("expected validation error for missing source_path")
	}

	traversal := CreateJobRequest{
		StoredName: "../etc/passwd",
		SourcePath: "/tmp/x",
	}
	if err := traversal.Validate(); err == nil {
		t.Fatal("expected validation error for path traversal in stored_name")
	}
}

func TestTerminal(t *testing.T) {
	if (Job{Stage: StageBurning}).Terminal() {
		t.Fatal("burning is not terminal")
	}
	if !(Job{Stage: StageCompleted}).Terminal() {
		t.Fatal("completed is terminal")
	}
	if !(Job{Stage: StageFailed}).Terminal() {
		t.Fatal("failed is terminal")
	}
}
