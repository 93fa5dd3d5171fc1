package main

import "github.com/CraigKelly/vinfer/cmd"

// TODO: checkpointing for trainers (so we can freeze and continue) - which
//       means parameter values and optimizer state both need saving

func main() {
	cmd.Execute()
}
