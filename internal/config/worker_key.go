package config

type WorkerKeyStruct struct {
	SyncQueue    string
	SyncInflight string
}

var WorkerKey = &WorkerKeyStruct{
	SyncQueue:    "proctor:sync:queue",
	SyncInflight: "proctor:sync:inflight",
}
