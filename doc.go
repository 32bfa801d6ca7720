// # Go Client Package for OpenAI Realtime Voice API
//
// This package runs a single spoken turn against the OpenAI Realtime API over a websocket: it records the user from the microphone until told to stop, sends the recording as one conversation item, plays the assistant's streamed audio reply, and answers the model's function calls from a local tool registry while the reply is being produced.
//
// Client is the websocket transport, Session the state machine driving the turn. Audio devices live in the tools package, the callable tools in the functions package.
package realtime
